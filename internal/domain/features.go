package domain

import (
	"sort"
	"strings"
	"time"
)

// Feature names read by the built-in detectors.
const (
	FeatureDNARepairCapacity   = "dna_repair_capacity"
	FeaturePathwayBurdenDDR    = "pathway_burden_ddr"
	FeatureEssentialityHRR     = "essentiality_hrr"
	FeatureExonDisruptionScore = "exon_disruption_score"
)

// FeatureSnapshot is a named set of normalized [0,1] biomarker/pathway values.
// Use NewFeatureSnapshot to build one; the values map is copied and never exposed for writing.
type FeatureSnapshot struct {
	values map[string]float64
	source BaselineSource
}

// NewFeatureSnapshot copies values into an immutable snapshot tagged with source.
func NewFeatureSnapshot(values map[string]float64, source BaselineSource) *FeatureSnapshot {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[strings.TrimSpace(k)] = v
	}
	return &FeatureSnapshot{values: copied, source: source}
}

// Value returns the named feature and whether it was present.
func (f *FeatureSnapshot) Value(name string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	v, ok := f.values[name]
	return v, ok
}

// Source reports whether the snapshot is patient-specific or a population average.
func (f *FeatureSnapshot) Source() BaselineSource {
	if f == nil {
		return ""
	}
	return f.source
}

// Len returns the number of features in the snapshot.
func (f *FeatureSnapshot) Len() int {
	if f == nil {
		return 0
	}
	return len(f.values)
}

// Names returns the feature names in sorted order.
func (f *FeatureSnapshot) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the feature map.
func (f *FeatureSnapshot) Values() map[string]float64 {
	out := make(map[string]float64, f.Len())
	if f == nil {
		return out
	}
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// MutationRecord describes one somatic or germline mutation reported for the patient.
type MutationRecord struct {
	Gene           string `json:"gene" yaml:"gene"`
	Classification string `json:"classification,omitempty" yaml:"classification,omitempty"`
	Zygosity       string `json:"zygosity,omitempty" yaml:"zygosity,omitempty"`
}

// IsBenign reports whether the variant was explicitly classified benign or likely benign.
func (m MutationRecord) IsBenign() bool {
	switch strings.ToLower(strings.TrimSpace(m.Classification)) {
	case "benign", "likely_benign", "likely benign":
		return true
	default:
		return false
	}
}

// TreatmentContext is the per-request treatment situation.
type TreatmentContext struct {
	TreatmentLine    int      `json:"treatment_line"`
	PriorTherapies   []string `json:"prior_therapies,omitempty"`
	CurrentDrugClass string   `json:"current_drug_class,omitempty"`
}

// Line returns the treatment line, treating anything below 1 as first line.
func (t TreatmentContext) Line() int {
	if t.TreatmentLine < 1 {
		return 1
	}
	return t.TreatmentLine
}

// CA125Measurement is one historical tumor-marker reading.
type CA125Measurement struct {
	Value      float64   `json:"value" yaml:"value"`
	MeasuredAt time.Time `json:"measured_at,omitempty" yaml:"measured_at,omitempty"`
}

// TreatmentEvent is one past regimen in the patient's history.
type TreatmentEvent struct {
	Regimen   string `json:"regimen" yaml:"regimen"`
	DrugClass string `json:"drug_class,omitempty" yaml:"drug_class,omitempty"`
	Line      int    `json:"line,omitempty" yaml:"line,omitempty"`
	Outcome   string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}
