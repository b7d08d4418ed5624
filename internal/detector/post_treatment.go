package detector

import (
	"context"
	"fmt"

	"github.com/resistance-prediction-engine/internal/domain"
)

// PostTreatmentPathwayDetector scores absolute post-treatment pathway expression. It deliberately
// reads the post-treatment state only: no pre/post delta variant exists.
type PostTreatmentPathwayDetector struct {
	panels PathwayPanels
	cfg    domain.ModelConfig
}

// NewPostTreatmentPathwayDetector creates the detector over the given gene panels.
func NewPostTreatmentPathwayDetector(cfg domain.ModelConfig, panels PathwayPanels) *PostTreatmentPathwayDetector {
	return &PostTreatmentPathwayDetector{panels: panels, cfg: cfg}
}

// Name implements Detector.
func (d *PostTreatmentPathwayDetector) Name() string { return "post_treatment_pathway" }

// SignalType implements Detector.
func (d *PostTreatmentPathwayDetector) SignalType() domain.SignalType {
	return domain.SignalPostTreatmentPathway
}

// Applicable implements Detector. The detector is disease-agnostic.
func (d *PostTreatmentPathwayDetector) Applicable(a Availability) bool {
	return a.HasExpression
}

// Detect implements Detector.
func (d *PostTreatmentPathwayDetector) Detect(ctx context.Context, in *Inputs) (*domain.SignalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expr := make(map[string]float64, len(in.Expression))
	for g, v := range in.Expression {
		expr[domain.NormalizeGeneSymbol(g)] = v
	}

	ddr, nDDR := d.panelScore(PanelDDR, expr)
	pi3k, nPI3K := d.panelScore(PanelPI3K, expr)
	vegf, nVEGF := d.panelScore(PanelVEGF, expr)
	measured := nDDR + nPI3K + nVEGF
	if measured == 0 {
		return notDetected(d.SignalType(),
			"No DDR, PI3K or VEGF panel genes present in expression data",
			map[string]any{"detector": d.Name(), "genes_supplied": len(expr)}), nil
	}

	profile := ClassifyPathways(ddr, pi3k, vegf, d.cfg)
	profile.GenesMeasured = measured

	rationale := fmt.Sprintf(
		"Post-treatment pathway state: DDR=%.2f, PI3K=%.2f, VEGF=%.2f, composite=%.2f -> %s risk, predicted %s",
		ddr, pi3k, vegf, profile.CompositeWeighted, profile.Risk, profile.PredictedPFICategory)

	return &domain.SignalRecord{
		SignalType:  d.SignalType(),
		Detected:    profile.Risk != domain.RiskLow,
		Probability: profile.CompositeWeighted,
		Confidence:  domain.Clamp01(d.cfg.PathwayConfidence),
		Rationale:   rationale,
		Provenance: map[string]any{
			"detector":               d.Name(),
			"genes_measured":         measured,
			"composite_weighted":     profile.CompositeWeighted,
			"predicted_pfi_category": profile.PredictedPFICategory,
		},
		Payload: profile,
	}, nil
}

// panelScore is the mean expression of the panel genes present, scaled by the expression cap.
func (d *PostTreatmentPathwayDetector) panelScore(panel string, expr map[string]float64) (float64, int) {
	var sum float64
	var n int
	for _, g := range d.panels[panel] {
		if v, ok := expr[g]; ok {
			sum += v
			n++
		}
	}
	if n == 0 || d.cfg.ExpressionCap <= 0 {
		return 0, n
	}
	return domain.Clamp01(sum / float64(n) / d.cfg.ExpressionCap), n
}

// ClassifyPathways applies the composite and risk rules to normalized panel scores.
func ClassifyPathways(ddr, pi3k, vegf float64, cfg domain.ModelConfig) domain.PathwayProfile {
	composite := domain.Clamp01(cfg.DDRWeight*ddr + cfg.PI3KWeight*pi3k + cfg.VEGFWeight*vegf)

	ddrHigh := ddr >= cfg.PathwayHighThreshold
	pi3kHigh := pi3k >= cfg.PathwayHighThreshold

	risk := domain.RiskLow
	switch {
	case composite >= cfg.CompositeThreshold || (ddrHigh && pi3kHigh):
		risk = domain.RiskHigh
	case ddrHigh != pi3kHigh:
		risk = domain.RiskMedium
	}

	category := domain.PFISensitive
	if composite >= cfg.CompositeThreshold {
		category = domain.PFIResistant
	}

	return domain.PathwayProfile{
		DDRScore:             ddr,
		PI3KScore:            pi3k,
		VEGFScore:            vegf,
		CompositeWeighted:    composite,
		Risk:                 risk,
		PredictedPFICategory: category,
	}
}
