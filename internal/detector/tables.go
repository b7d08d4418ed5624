package detector

import (
	"sort"

	"github.com/resistance-prediction-engine/internal/domain"
)

// HighRiskGene is one row of the myeloma high-risk gene table.
// Confidence here is a per-gene statistical-significance proxy, not data provenance trust.
type HighRiskGene struct {
	RelativeRisk        float64
	PValue              float64
	Confidence          float64
	Mechanism           string
	DrugClassesAffected []string
}

// HighRiskGeneTable maps normalized gene symbols to their table rows.
type HighRiskGeneTable map[string]HighRiskGene

// DefaultHighRiskGenes returns the validated myeloma gene table. Rows with zero confidence are
// genes evaluated without a validated signal; they are kept so lookups stay explicit.
func DefaultHighRiskGenes() HighRiskGeneTable {
	return HighRiskGeneTable{
		"DIS3": {
			RelativeRisk:        2.08,
			PValue:              0.0145,
			Confidence:          0.95,
			Mechanism:           "RNA surveillance deficiency",
			DrugClassesAffected: []string{"proteasome_inhibitor", "imid"},
		},
		"TP53": {
			RelativeRisk:        1.90,
			PValue:              0.11,
			Confidence:          0.75,
			Mechanism:           "genomic instability and apoptosis escape",
			DrugClassesAffected: []string{"proteasome_inhibitor", "imid", "anti_cd38"},
		},
		"KRAS": {
			RelativeRisk: 0.93,
			PValue:       0.87,
			Mechanism:    "MAPK activation (no validated resistance signal)",
		},
		"NRAS": {
			RelativeRisk: 0.93,
			PValue:       0.87,
			Mechanism:    "MAPK activation (no validated resistance signal)",
		},
		"TRAF3": {
			RelativeRisk: 1.0,
			PValue:       1.0,
			Mechanism:    "NF-kB activation (no validated resistance signal)",
		},
	}
}

// Genes returns the table's gene symbols sorted alphabetically.
func (t HighRiskGeneTable) Genes() []string {
	out := make([]string, 0, len(t))
	for g := range t {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Pathway panel names.
const (
	PanelDDR  = "ddr"
	PanelPI3K = "pi3k"
	PanelVEGF = "vegf"
)

// PathwayPanels maps a panel name to its gene list.
type PathwayPanels map[string][]string

// DefaultPathwayPanels returns the DDR, PI3K and VEGF expression panels.
func DefaultPathwayPanels() PathwayPanels {
	return PathwayPanels{
		PanelDDR: {
			"BRCA1", "BRCA2", "ATM", "ATR", "CHEK1", "CHEK2", "RAD51", "PALB2",
			"MBD4", "MLH1", "MSH2", "MSH6", "PMS2", "TP53", "RAD50", "PARP1",
		},
		PanelPI3K: {
			"PIK3CA", "PIK3CB", "PIK3R1", "PTEN", "AKT1", "AKT2", "AKT3", "MTOR", "RPS6KB1",
		},
		PanelVEGF: {
			"VEGFA", "VEGFB", "VEGFC", "KDR", "FLT1", "FLT4", "HIF1A", "ANGPT2",
		},
	}
}

// repairPathwayWeights documents the composition of the repair signal. They are reported in the
// payload and never re-summed into the probability.
var repairPathwayWeights = []struct {
	feature string
	weight  float64
}{
	{domain.FeaturePathwayBurdenDDR, 0.60},
	{domain.FeatureEssentialityHRR, 0.20},
	{domain.FeatureExonDisruptionScore, 0.20},
}
