package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/resistance-prediction-engine/internal/domain"
)

// MMHighRiskGeneDetector matches myeloma mutations against the validated high-risk gene table.
type MMHighRiskGeneDetector struct {
	table HighRiskGeneTable
	boost float64
}

// NewMMHighRiskGeneDetector creates the detector over the given gene table.
func NewMMHighRiskGeneDetector(cfg domain.ModelConfig, table HighRiskGeneTable) *MMHighRiskGeneDetector {
	return &MMHighRiskGeneDetector{table: table, boost: cfg.DrugClassBoost}
}

// Name implements Detector.
func (d *MMHighRiskGeneDetector) Name() string { return "mm_high_risk_gene" }

// SignalType implements Detector.
func (d *MMHighRiskGeneDetector) SignalType() domain.SignalType {
	return domain.SignalMMHighRiskGene
}

// Applicable implements Detector.
func (d *MMHighRiskGeneDetector) Applicable(a Availability) bool {
	return a.Disease == domain.DiseaseMyeloma && a.HasMutations
}

// Detect implements Detector.
func (d *MMHighRiskGeneDetector) Detect(ctx context.Context, in *Inputs) (*domain.SignalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := d.match(in.Mutations)
	if len(matches) == 0 {
		return notDetected(d.SignalType(),
			"No validated myeloma high-risk gene mutations found",
			map[string]any{"detector": d.Name(), "mutations_checked": len(in.Mutations)}), nil
	}

	var maxRR, confSum float64
	for _, m := range matches {
		if m.RelativeRisk > maxRR {
			maxRR = m.RelativeRisk
		}
		confSum += m.Confidence
	}
	confidence := confSum / float64(len(matches))

	drugClass := domain.NormalizeDrugClass(in.Treatment.CurrentDrugClass)
	boosted := drugClass != "" && affectsDrugClass(matches, drugClass)
	if boosted {
		confidence *= d.boost
	}

	payload := domain.HighRiskGeneMatch{
		Matches:          matches,
		MaxRelativeRisk:  maxRR,
		DrugClassBoosted: boosted,
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("%s (RR=%.2f, p=%.4g, %s)", m.Gene, m.RelativeRisk, m.PValue, m.Mechanism))
	}
	rationale := "High-risk myeloma genes mutated: " + strings.Join(parts, "; ")
	if boosted {
		rationale += fmt.Sprintf("; current drug class %s is affected", drugClass)
	}

	return &domain.SignalRecord{
		SignalType:  d.SignalType(),
		Detected:    true,
		Probability: domain.Clamp01(maxRR / (maxRR + 1)),
		Confidence:  domain.Clamp01(confidence),
		Rationale:   rationale,
		Provenance: map[string]any{
			"detector":           d.Name(),
			"matched_genes":      payload.Genes(),
			"max_relative_risk":  maxRR,
			"drug_class_boosted": boosted,
		},
		Payload: payload,
	}, nil
}

// match returns the table rows with a validated signal for the patient's non-benign mutations,
// one per gene, sorted by gene symbol.
func (d *MMHighRiskGeneDetector) match(mutations []domain.MutationRecord) []domain.GeneMatch {
	seen := make(map[string]bool)
	var matches []domain.GeneMatch
	for _, m := range mutations {
		if m.IsBenign() {
			continue
		}
		gene := domain.NormalizeGeneSymbol(m.Gene)
		if seen[gene] {
			continue
		}
		row, ok := d.table[gene]
		if !ok || row.Confidence <= 0 {
			continue
		}
		seen[gene] = true
		matches = append(matches, domain.GeneMatch{
			Gene:                gene,
			RelativeRisk:        row.RelativeRisk,
			PValue:              row.PValue,
			Confidence:          row.Confidence,
			Mechanism:           row.Mechanism,
			DrugClassesAffected: append([]string(nil), row.DrugClassesAffected...),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Gene < matches[j].Gene })
	return matches
}

func affectsDrugClass(matches []domain.GeneMatch, drugClass string) bool {
	for _, m := range matches {
		for _, c := range m.DrugClassesAffected {
			if domain.NormalizeDrugClass(c) == drugClass {
				return true
			}
		}
	}
	return false
}
