package service

import (
	"fmt"

	"github.com/resistance-prediction-engine/internal/domain"
)

// BuildRationale assembles the ordered plain-language explanation: summary first, then one line per
// evaluated signal in detector order, then the treatment adjustment if it applied.
func BuildRationale(probability float64, risk domain.RiskLevel, confidence float64, signals []*domain.SignalRecord, adj Adjustment) []string {
	detected := CountDetected(signals)
	lines := make([]string, 0, len(signals)+2)

	lines = append(lines, fmt.Sprintf(
		"Resistance probability %.2f (%s risk, confidence %.2f): %d of %d evaluated signals detected",
		probability, risk, confidence, detected, len(signals)))

	for _, s := range signals {
		status := "not detected"
		if s.Detected {
			status = "detected"
		}
		lines = append(lines, fmt.Sprintf("%s %s (p=%.2f, confidence=%.2f): %s",
			s.SignalType, status, s.Probability, s.Confidence, s.Rationale))
	}

	if adj.Applied {
		line := fmt.Sprintf("Treatment adjustment x%.2f (line multiplier x%.2f", adj.Multiplier, adj.LineMultiplier)
		if adj.CrossResistance {
			line += fmt.Sprintf(", cross-resistance with prior %s", adj.MatchedTherapy)
		}
		line += fmt.Sprintf("): %.2f -> %.2f", adj.Base, adj.Adjusted)
		lines = append(lines, line)
	}

	return lines
}
