package service

import (
	"github.com/resistance-prediction-engine/internal/domain"
)

// AggregateProbability is the confidence-weighted mean probability over active signals, or 0 when
// no signal has positive confidence.
func AggregateProbability(signals []*domain.SignalRecord) float64 {
	var weighted, total float64
	for _, s := range signals {
		if !s.Active() {
			continue
		}
		c := domain.Clamp01(s.Confidence)
		weighted += domain.Clamp01(s.Probability) * c
		total += c
	}
	if total == 0 {
		return 0
	}
	return domain.Clamp01(weighted / total)
}

// CountDetected counts records with Detected set. Evaluated-but-negative records do not count.
func CountDetected(signals []*domain.SignalRecord) int {
	n := 0
	for _, s := range signals {
		if s != nil && s.Detected {
			n++
		}
	}
	return n
}

// Adjustment describes the treatment-line and cross-resistance step.
type Adjustment struct {
	Applied         bool
	Base            float64
	Adjusted        float64
	LineMultiplier  float64
	CrossResistance bool
	Multiplier      float64
	MatchedTherapy  string
}

// AdjustForTreatment scales the base probability by treatment line and cross-resistance. It only
// applies to myeloma or to treatment lines beyond the first.
func AdjustForTreatment(base float64, disease string, t domain.TreatmentContext, cfg domain.ModelConfig) Adjustment {
	line := t.Line()
	adj := Adjustment{Base: base, Adjusted: base, LineMultiplier: 1.0, Multiplier: 1.0}
	if domain.NormalizeDisease(disease) != domain.DiseaseMyeloma && line <= 1 {
		return adj
	}

	adj.Applied = true
	switch {
	case line >= 3:
		adj.LineMultiplier = cfg.LineMultiplierThirdPlus
	case line == 2:
		adj.LineMultiplier = cfg.LineMultiplierSecond
	}
	adj.Multiplier = adj.LineMultiplier

	if current := domain.NormalizeDrugClass(t.CurrentDrugClass); current != "" {
		for _, prior := range t.PriorTherapies {
			if domain.NormalizeDrugClass(prior) == current {
				adj.CrossResistance = true
				adj.MatchedTherapy = prior
				adj.Multiplier *= cfg.CrossResistanceFactor
				break
			}
		}
	}

	adjusted := base * adj.Multiplier
	if adjusted > cfg.AdjustedCeiling {
		adjusted = cfg.AdjustedCeiling
	}
	adj.Adjusted = domain.Clamp01(adjusted)
	return adj
}

// Stratify maps the adjusted probability and detected-signal count to a risk tier. Without CA-125
// history a single signal can never produce HIGH.
func Stratify(probability float64, signalCount int, ca125Available bool, cfg domain.ModelConfig) domain.RiskLevel {
	var risk domain.RiskLevel
	switch {
	case probability >= cfg.HighRiskProbability && signalCount >= 2:
		risk = domain.RiskHigh
	case probability >= cfg.MediumRiskProbability || signalCount == 1:
		risk = domain.RiskMedium
	default:
		risk = domain.RiskLow
	}

	// Unreachable with the HIGH rule above; kept as a guard in case that rule is relaxed.
	if risk == domain.RiskHigh && !ca125Available && signalCount < 2 {
		risk = domain.RiskMedium
	}
	return risk
}

// ConfidenceResult is the outcome of the confidence step.
type ConfidenceResult struct {
	Value          float64
	PrePenalty     float64
	PenaltyApplied bool
	Cap            string
}

// ComputeConfidence averages active signal confidences, penalizes population baselines and caps
// sparse evidence.
func ComputeConfidence(signals []*domain.SignalRecord, source domain.BaselineSource, signalCount int, ca125Available bool, cfg domain.ModelConfig) ConfidenceResult {
	var sum float64
	var n int
	for _, s := range signals {
		if s.Active() {
			sum += domain.Clamp01(s.Confidence)
			n++
		}
	}

	var res ConfidenceResult
	if n > 0 {
		res.PrePenalty = sum / float64(n)
	}
	res.Value = res.PrePenalty

	if source == domain.BaselinePopulation {
		res.Value *= cfg.PopulationPenalty
		res.PenaltyApplied = true
	}

	if !ca125Available && signalCount < 2 && res.Value > cfg.SparseEvidenceCap {
		res.Value = cfg.SparseEvidenceCap
		res.Cap = domain.ConfidenceCapMedium
	}

	res.Value = domain.Clamp01(res.Value)
	return res
}
