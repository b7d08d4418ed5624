package domain

import (
	"time"
)

// ConfidenceCapMedium marks a prediction whose confidence was lowered by the sparse-evidence cap.
const ConfidenceCapMedium = "MEDIUM"

// RecommendedAction is one ordered clinical action attached to a prediction.
type RecommendedAction struct {
	Action    string `json:"action"`
	Timeframe string `json:"timeframe"`
	Rationale string `json:"rationale"`
	Priority  int    `json:"priority"`
}

// NextLineOption is one alternative therapy suggested by the playbook service.
type NextLineOption struct {
	Drug          string `json:"drug"`
	DrugClass     string `json:"drug_class"`
	Rationale     string `json:"rationale"`
	EvidenceLevel string `json:"evidence_level"`
	Priority      int    `json:"priority"`
	SourceGene    string `json:"source_gene,omitempty"`
}

// Prediction is the single immutable result of one predict call.
type Prediction struct {
	ID                     string              `json:"id"`
	Disease                string              `json:"disease"`
	RiskLevel              RiskLevel           `json:"risk_level"`
	Probability            float64             `json:"probability"`
	Confidence             float64             `json:"confidence"`
	ConfidenceCap          string              `json:"confidence_cap,omitempty"`
	Signals                []*SignalRecord     `json:"signals"`
	SignalCount            int                 `json:"signal_count"`
	Urgency                Urgency             `json:"urgency"`
	RecommendedActions     []RecommendedAction `json:"recommended_actions"`
	NextLineOptions        []NextLineOption    `json:"next_line_options"`
	Rationale              []string            `json:"rationale"`
	Provenance             map[string]any      `json:"provenance"`
	Warnings               []string            `json:"warnings"`
	BaselineSource         BaselineSource      `json:"baseline_source"`
	BaselinePenaltyApplied bool                `json:"baseline_penalty_applied"`
	CreatedAt              time.Time           `json:"created_at"`
}

// HasWarning reports whether code is among the prediction's warnings.
func (p *Prediction) HasWarning(code string) bool {
	for _, w := range p.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// Signal returns the first signal of the given type, or nil.
func (p *Prediction) Signal(t SignalType) *SignalRecord {
	for _, s := range p.Signals {
		if s.SignalType == t {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy. Event handlers receive clones so they cannot alter the record
// returned to the caller.
func (p *Prediction) Clone() *Prediction {
	if p == nil {
		return nil
	}
	c := *p
	if p.Signals != nil {
		c.Signals = make([]*SignalRecord, len(p.Signals))
		for i, s := range p.Signals {
			c.Signals[i] = s.Clone()
		}
	}
	c.RecommendedActions = cloneSlice(p.RecommendedActions)
	c.NextLineOptions = cloneSlice(p.NextLineOptions)
	c.Rationale = cloneSlice(p.Rationale)
	c.Warnings = cloneSlice(p.Warnings)
	c.Provenance = cloneMap(p.Provenance)
	return &c
}

// cloneSlice copies s, keeping nil and empty distinct so JSON output is unchanged.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return cloneSlice(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return cloneMap(t)
	case map[string]bool:
		out := make(map[string]bool, len(t))
		for k, b := range t {
			out[k] = b
		}
		return out
	default:
		return v
	}
}
