package service

import (
	"context"
	"math"
	"strings"

	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/pkg/external"
)

// PredictionRequest carries every input of one predict call. Only Disease is required; every other
// field may be absent and the engine degrades accordingly.
type PredictionRequest struct {
	PatientID        string                    `json:"patient_id,omitempty" yaml:"patient_id,omitempty"`
	Disease          string                    `json:"disease" yaml:"disease"`
	CurrentFeatures  map[string]float64        `json:"current_features,omitempty" yaml:"current_features,omitempty"`
	BaselineFeatures map[string]float64        `json:"baseline_features,omitempty" yaml:"baseline_features,omitempty"`
	CA125History     []domain.CA125Measurement `json:"ca125_history,omitempty" yaml:"ca125_history,omitempty"`
	TreatmentHistory []domain.TreatmentEvent   `json:"treatment_history,omitempty" yaml:"treatment_history,omitempty"`
	CurrentRegimen   string                    `json:"current_regimen,omitempty" yaml:"current_regimen,omitempty"`
	CurrentDrugClass string                    `json:"current_drug_class,omitempty" yaml:"current_drug_class,omitempty"`
	Mutations        []domain.MutationRecord   `json:"mutations,omitempty" yaml:"mutations,omitempty"`
	TreatmentLine    int                       `json:"treatment_line,omitempty" yaml:"treatment_line,omitempty"`
	PriorTherapies   []string                  `json:"prior_therapies,omitempty" yaml:"prior_therapies,omitempty"`
	ExpressionData   map[string]float64        `json:"expression_data,omitempty" yaml:"expression_data,omitempty"`
}

// Validate checks the request shape at the boundary. Predict itself never rejects a request; this
// is for HTTP, MCP and CLI callers that want a 400 instead of a degraded prediction.
func (r *PredictionRequest) Validate() error {
	if r == nil {
		return domain.ErrNilRequest
	}
	if strings.TrimSpace(r.Disease) == "" {
		return domain.NewValidationError("disease", "disease is required", r.Disease)
	}
	if r.TreatmentLine < 0 {
		return domain.NewValidationError("treatment_line", "treatment line must be >= 1", r.TreatmentLine)
	}
	for name, v := range r.CurrentFeatures {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewValidationError("current_features."+name, "feature value must be finite", v)
		}
	}
	for name, v := range r.BaselineFeatures {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewValidationError("baseline_features."+name, "feature value must be finite", v)
		}
	}
	for i, m := range r.Mutations {
		if strings.TrimSpace(m.Gene) == "" {
			return domain.NewValidationError("mutations", "gene symbol is required", i)
		}
	}
	for gene, v := range r.ExpressionData {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewValidationError("expression_data."+gene, "expression must be a finite non-negative value", v)
		}
	}
	return nil
}

// PlaybookService supplies next-line therapy options. Implemented by external.PlaybookClient.
type PlaybookService interface {
	GetNextLineOptions(ctx context.Context, req *external.NextLineRequest) (*external.NextLineResponse, error)
}

// priorTherapies returns the request's prior therapies without duplicates (after normalization),
// keeping first-seen order. Treatment history is informational and does not feed cross-resistance.
func priorTherapies(req *PredictionRequest) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		key := domain.NormalizeDrugClass(v)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, v)
	}
	for _, p := range req.PriorTherapies {
		add(p)
	}
	return out
}
