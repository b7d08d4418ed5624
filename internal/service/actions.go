package service

import (
	"fmt"
	"strings"

	"github.com/resistance-prediction-engine/internal/domain"
)

type actionTemplate struct {
	action    string
	timeframe string
	rationale string
}

// actionCatalog is an ordered list of actions per risk tier.
type actionCatalog map[domain.RiskLevel][]actionTemplate

var ovarianActions = actionCatalog{
	domain.RiskHigh: {
		{"Order confirmatory imaging (CT chest/abdomen/pelvis)", "within 1 week", "High resistance probability with concordant signals"},
		{"Present at tumor board to discuss switching therapy", "within 2 weeks", "Resistance mechanism identified"},
		{"Screen for clinical trial eligibility", "within 2 weeks", "Next-line options should be reviewed before progression"},
	},
	domain.RiskMedium: {
		{"Increase CA-125 monitoring to every 2 weeks", "next 6 weeks", "Single or moderate resistance signal needs trend confirmation"},
		{"Repeat molecular profiling at next biopsy", "next 8 weeks", "Confirm whether repair capacity is being restored"},
	},
	domain.RiskLow: {
		{"Continue current therapy with routine monitoring", "per standard schedule", "No significant resistance signal"},
	},
}

var myelomaActions = actionCatalog{
	domain.RiskHigh: {
		{"Assess for early relapse with M-protein and serum free light chains", "within 1 week", "High resistance probability with concordant signals"},
		{"Consider switching to a non-cross-resistant drug class", "within 2 weeks", "High-risk genomic features affect the current regimen"},
		{"Refer for clinical trial or cellular therapy evaluation", "within 2 weeks", "Next-line options should be reviewed before progression"},
	},
	domain.RiskMedium: {
		{"Increase M-protein monitoring frequency to every 4 weeks", "next 3 months", "Single or moderate resistance signal needs trend confirmation"},
		{"Review cytogenetics and high-risk markers", "next 4 weeks", "Confirm the genomic risk profile"},
	},
	domain.RiskLow: {
		{"Continue current therapy with routine monitoring", "per standard schedule", "No significant resistance signal"},
	},
}

var genericActions = actionCatalog{
	domain.RiskHigh: {
		{"Review post-treatment pathway profile at tumor board", "within 2 weeks", "Pathway state indicates resistance"},
		{"Evaluate pathway-targeted alternatives", "within 2 weeks", "Activated pathways may be targetable"},
	},
	domain.RiskMedium: {
		{"Repeat expression profiling at next biopsy", "next 8 weeks", "Single pathway activation needs confirmation"},
	},
	domain.RiskLow: {
		{"Continue current therapy with routine monitoring", "per standard schedule", "No significant resistance signal"},
	},
}

func catalogFor(disease string) actionCatalog {
	switch disease {
	case domain.DiseaseOvarian:
		return ovarianActions
	case domain.DiseaseMyeloma:
		return myelomaActions
	default:
		return genericActions
	}
}

// DetermineActions returns the ordered actions for the disease and risk tier. HIGH actions carry
// mechanism detail: escaped pathways for ovarian, matched high-risk genes for myeloma.
func DetermineActions(disease string, risk domain.RiskLevel, signals []*domain.SignalRecord) []domain.RecommendedAction {
	templates := catalogFor(disease)[risk]
	actions := make([]domain.RecommendedAction, 0, len(templates))

	detail := ""
	if risk == domain.RiskHigh {
		detail = mechanismDetail(disease, signals)
	}

	for i, tpl := range templates {
		rationale := tpl.rationale
		if detail != "" {
			rationale = fmt.Sprintf("%s (%s)", rationale, detail)
		}
		actions = append(actions, domain.RecommendedAction{
			Action:    tpl.action,
			Timeframe: tpl.timeframe,
			Rationale: rationale,
			Priority:  i + 1,
		})
	}
	return actions
}

func mechanismDetail(disease string, signals []*domain.SignalRecord) string {
	switch disease {
	case domain.DiseaseOvarian:
		for _, s := range signals {
			if s.SignalType != domain.SignalDNARepairRestoration || !s.Detected {
				continue
			}
			if escaped := stringSlice(s.Provenance["escaped_pathways"]); len(escaped) > 0 {
				return "escaped pathways: " + strings.Join(escaped, ", ")
			}
			return "DNA repair restoration"
		}
	case domain.DiseaseMyeloma:
		for _, s := range signals {
			if s.SignalType != domain.SignalMMHighRiskGene || !s.Detected {
				continue
			}
			if genes := stringSlice(s.Provenance["matched_genes"]); len(genes) > 0 {
				return "high-risk genes: " + strings.Join(genes, ", ")
			}
		}
	}
	return ""
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
