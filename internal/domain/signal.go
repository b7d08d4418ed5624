package domain

import (
	"encoding/json"
	"fmt"
)

// SignalRecord is the uniform output of one detector invocation.
// Payload always matches SignalType; see SignalPayload.
type SignalRecord struct {
	SignalType  SignalType     `json:"signal_type"`
	Detected    bool           `json:"detected"`
	Probability float64        `json:"probability"`
	Confidence  float64        `json:"confidence"`
	Rationale   string         `json:"rationale"`
	Provenance  map[string]any `json:"provenance,omitempty"`
	Payload     SignalPayload  `json:"payload,omitempty"`
}

// Active reports whether the signal takes part in aggregation (confidence > 0).
func (s *SignalRecord) Active() bool {
	return s != nil && s.Confidence > 0
}

// Clone returns a deep copy of the record, including its payload.
func (s *SignalRecord) Clone() *SignalRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Provenance = cloneMap(s.Provenance)
	switch p := s.Payload.(type) {
	case MechanismBreakdown:
		p.Pathways = cloneSlice(p.Pathways)
		c.Payload = p
	case PathwayProfile:
		c.Payload = p
	case HighRiskGeneMatch:
		matches := cloneSlice(p.Matches)
		for i := range matches {
			matches[i].DrugClassesAffected = cloneSlice(matches[i].DrugClassesAffected)
		}
		p.Matches = matches
		c.Payload = p
	}
	return &c
}

// UnmarshalJSON decodes the payload into the concrete type selected by SignalType.
func (s *SignalRecord) UnmarshalJSON(data []byte) error {
	type plain SignalRecord
	aux := struct {
		*plain
		Payload json.RawMessage `json:"payload,omitempty"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Payload = nil
	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		return nil
	}

	var payload SignalPayload
	switch s.SignalType {
	case SignalDNARepairRestoration:
		var m MechanismBreakdown
		if err := json.Unmarshal(aux.Payload, &m); err != nil {
			return err
		}
		payload = m
	case SignalPostTreatmentPathway:
		var p PathwayProfile
		if err := json.Unmarshal(aux.Payload, &p); err != nil {
			return err
		}
		payload = p
	case SignalMMHighRiskGene:
		var h HighRiskGeneMatch
		if err := json.Unmarshal(aux.Payload, &h); err != nil {
			return err
		}
		payload = h
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSignalType, s.SignalType)
	}
	s.Payload = payload
	return nil
}

// SignalPayload is the signal-specific part of a SignalRecord. The set of implementations is
// closed: MechanismBreakdown, PathwayProfile and HighRiskGeneMatch.
type SignalPayload interface {
	PayloadType() SignalType
}

// PathwayDelta is the change of one pathway feature between baseline and current state.
type PathwayDelta struct {
	Feature  string  `json:"feature"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
	// Weight documents the pathway's share of the composite repair signal. It is not
	// re-summed into the probability.
	Weight   float64 `json:"weight"`
	Restored bool    `json:"restored"`
}

// MechanismBreakdown is the DNA-repair-restoration payload.
type MechanismBreakdown struct {
	RepairChange float64        `json:"repair_change"`
	Threshold    float64        `json:"threshold"`
	Pathways     []PathwayDelta `json:"pathways"`
}

// PayloadType implements SignalPayload.
func (MechanismBreakdown) PayloadType() SignalType { return SignalDNARepairRestoration }

// EscapedPathways lists the pathway features whose delta crossed the restoration threshold.
func (m MechanismBreakdown) EscapedPathways() []string {
	var out []string
	for _, p := range m.Pathways {
		if p.Restored {
			out = append(out, p.Feature)
		}
	}
	return out
}

// PathwayProfile is the post-treatment pathway payload.
type PathwayProfile struct {
	DDRScore             float64   `json:"ddr_score"`
	PI3KScore            float64   `json:"pi3k_score"`
	VEGFScore            float64   `json:"vegf_score"`
	CompositeWeighted    float64   `json:"composite_weighted"`
	Risk                 RiskLevel `json:"risk"`
	PredictedPFICategory string    `json:"predicted_pfi_category"`
	GenesMeasured        int       `json:"genes_measured"`
}

// PayloadType implements SignalPayload.
func (PathwayProfile) PayloadType() SignalType { return SignalPostTreatmentPathway }

// GeneMatch is one patient gene found in the high-risk gene table.
type GeneMatch struct {
	Gene                string   `json:"gene"`
	RelativeRisk        float64  `json:"relative_risk"`
	PValue              float64  `json:"p_value"`
	Confidence          float64  `json:"confidence"`
	Mechanism           string   `json:"mechanism"`
	DrugClassesAffected []string `json:"drug_classes_affected"`
}

// HighRiskGeneMatch is the myeloma high-risk gene payload.
type HighRiskGeneMatch struct {
	Matches          []GeneMatch `json:"matches"`
	MaxRelativeRisk  float64     `json:"max_relative_risk"`
	DrugClassBoosted bool        `json:"drug_class_boosted"`
}

// PayloadType implements SignalPayload.
func (HighRiskGeneMatch) PayloadType() SignalType { return SignalMMHighRiskGene }

// Genes returns the matched gene symbols in table order.
func (h HighRiskGeneMatch) Genes() []string {
	out := make([]string, 0, len(h.Matches))
	for _, m := range h.Matches {
		out = append(out, m.Gene)
	}
	return out
}
