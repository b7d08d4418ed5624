package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/resistance-prediction-engine/internal/domain"
)

// DNARepairDetector flags restoration of DNA repair capacity between baseline and current state.
// It only applies to ovarian cancer, where restored homologous recombination predicts platinum
// and PARP inhibitor resistance.
type DNARepairDetector struct {
	threshold       float64
	steepness       float64
	patientTrust    float64
	populationTrust float64
}

// NewDNARepairDetector creates the detector from the model constants.
func NewDNARepairDetector(cfg domain.ModelConfig) *DNARepairDetector {
	return &DNARepairDetector{
		threshold:       cfg.RepairThreshold,
		steepness:       cfg.SigmoidSteepness,
		patientTrust:    cfg.PatientBaselineTrust,
		populationTrust: cfg.PopulationBaselineTrust,
	}
}

// Name implements Detector.
func (d *DNARepairDetector) Name() string { return "dna_repair_restoration" }

// SignalType implements Detector.
func (d *DNARepairDetector) SignalType() domain.SignalType {
	return domain.SignalDNARepairRestoration
}

// Applicable implements Detector.
func (d *DNARepairDetector) Applicable(a Availability) bool {
	return a.Disease == domain.DiseaseOvarian
}

// Detect implements Detector.
func (d *DNARepairDetector) Detect(ctx context.Context, in *Inputs) (*domain.SignalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, okCurrent := in.Current.Value(domain.FeatureDNARepairCapacity)
	baseline, okBaseline := in.Baseline.Value(domain.FeatureDNARepairCapacity)
	if !okCurrent || !okBaseline {
		return notDetected(d.SignalType(),
			"DNA repair capacity missing from current or baseline features; restoration not evaluated",
			map[string]any{"detector": d.Name(), "missing_feature": domain.FeatureDNARepairCapacity}), nil
	}

	change := current - baseline
	detected := change < d.threshold
	probability := domain.Clamp01(Sigmoid(-d.steepness * (change - d.threshold)))

	// Trust in the comparison depends on where the baseline came from.
	confidence := d.populationTrust
	if in.Baseline.Source() == domain.BaselinePatient {
		confidence = d.patientTrust
	}

	breakdown := domain.MechanismBreakdown{
		RepairChange: change,
		Threshold:    d.threshold,
		Pathways:     d.pathwayDeltas(in),
	}
	escaped := breakdown.EscapedPathways()

	var rationale string
	if detected {
		rationale = fmt.Sprintf("DNA repair capacity restored by %.2f (%.2f -> %.2f), beyond threshold %.2f",
			-change, baseline, current, d.threshold)
		if len(escaped) > 0 {
			rationale += fmt.Sprintf("; escaped pathways: %s", strings.Join(escaped, ", "))
		}
	} else {
		rationale = fmt.Sprintf("DNA repair capacity change %.2f (%.2f -> %.2f) within threshold %.2f",
			change, baseline, current, d.threshold)
	}

	return &domain.SignalRecord{
		SignalType:  d.SignalType(),
		Detected:    detected,
		Probability: probability,
		Confidence:  domain.Clamp01(confidence),
		Rationale:   rationale,
		Provenance: map[string]any{
			"detector":         d.Name(),
			"repair_change":    change,
			"threshold":        d.threshold,
			"baseline_source":  string(in.Baseline.Source()),
			"escaped_pathways": escaped,
		},
		Payload: breakdown,
	}, nil
}

func (d *DNARepairDetector) pathwayDeltas(in *Inputs) []domain.PathwayDelta {
	deltas := make([]domain.PathwayDelta, 0, len(repairPathwayWeights))
	for _, pw := range repairPathwayWeights {
		cur, ok1 := in.Current.Value(pw.feature)
		base, ok2 := in.Baseline.Value(pw.feature)
		if !ok1 || !ok2 {
			continue
		}
		delta := cur - base
		deltas = append(deltas, domain.PathwayDelta{
			Feature:  pw.feature,
			Baseline: base,
			Current:  cur,
			Delta:    delta,
			Weight:   pw.weight,
			Restored: delta < d.threshold,
		})
	}
	return deltas
}
