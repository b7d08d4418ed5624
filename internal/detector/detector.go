// Package detector holds the resistance signal detectors. Each detector is pure computation over
// the request inputs and produces exactly one domain.SignalRecord per invocation.
package detector

import (
	"context"
	"math"

	"github.com/resistance-prediction-engine/internal/domain"
)

// Detector is the capability every resistance signal source implements.
type Detector interface {
	// Name is a stable identifier used in provenance and logs.
	Name() string

	// SignalType is the tag of the records this detector produces.
	SignalType() domain.SignalType

	// Applicable reports whether the detector can run for the given inputs. An inapplicable
	// detector is simply not run.
	Applicable(a Availability) bool

	// Detect evaluates the inputs. Degenerate input yields a non-detected record with zero
	// confidence rather than an error.
	Detect(ctx context.Context, in *Inputs) (*domain.SignalRecord, error)
}

// Availability summarizes which inputs a request carries.
type Availability struct {
	Disease       string
	HasMutations  bool
	HasExpression bool
	HasFeatures   bool
}

// Inputs is the read-only view of one request handed to every selected detector.
type Inputs struct {
	Disease    string
	Current    *domain.FeatureSnapshot
	Baseline   *domain.FeatureSnapshot
	Mutations  []domain.MutationRecord
	Expression map[string]float64
	Treatment  domain.TreatmentContext
}

// Availability derives the capability summary for the inputs.
func (in *Inputs) Availability() Availability {
	return Availability{
		Disease:       domain.NormalizeDisease(in.Disease),
		HasMutations:  len(in.Mutations) > 0,
		HasExpression: len(in.Expression) > 0,
		HasFeatures:   in.Current.Len() > 0,
	}
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// notDetected builds the record returned for degenerate input.
func notDetected(t domain.SignalType, rationale string, provenance map[string]any) *domain.SignalRecord {
	return &domain.SignalRecord{
		SignalType:  t,
		Detected:    false,
		Probability: 0,
		Confidence:  0,
		Rationale:   rationale,
		Provenance:  provenance,
	}
}

// Registry returns the built-in detectors in invocation order.
func Registry(cfg domain.ModelConfig) []Detector {
	return []Detector{
		NewDNARepairDetector(cfg),
		NewMMHighRiskGeneDetector(cfg, DefaultHighRiskGenes()),
		NewPostTreatmentPathwayDetector(cfg, DefaultPathwayPanels()),
	}
}
