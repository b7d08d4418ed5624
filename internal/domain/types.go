// Package domain contains the core entities of the resistance prediction engine: feature snapshots,
// mutation records, detector signal records and the final Prediction, plus the enumerations that
// tier them.
//
// Every value built here is created once per request and never mutated afterwards, which is what
// lets detectors run concurrently without locks.
package domain

import (
	"errors"
	"strings"
)

// RiskLevel is the stratified risk that the current therapy will fail.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Urgency mirrors RiskLevel one to one and drives how fast actions must happen.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyElevated Urgency = "ELEVATED"
	UrgencyRoutine  Urgency = "ROUTINE"
)

// SignalType tags a SignalRecord and selects its payload type.
type SignalType string

const (
	SignalDNARepairRestoration SignalType = "DNA_REPAIR_RESTORATION"
	SignalMMHighRiskGene       SignalType = "MM_HIGH_RISK_GENE"
	SignalPostTreatmentPathway SignalType = "POST_TREATMENT_PATHWAY"
)

// BaselineSource records where the baseline feature snapshot came from.
type BaselineSource string

const (
	BaselinePatient    BaselineSource = "patient_baseline"
	BaselinePopulation BaselineSource = "population_average"
)

// Disease identifiers understood by the built-in detectors and action catalogs.
const (
	DiseaseOvarian = "ovarian"
	DiseaseMyeloma = "myeloma"
)

// PFI categories predicted by the post-treatment pathway profile.
const (
	PFIResistant = "resistant"
	PFISensitive = "sensitive"
)

// Validation errors for enum values
var (
	ErrInvalidRiskLevel  = errors.New("invalid risk level")
	ErrInvalidSignalType = errors.New("invalid signal type")
)

// IsValid reports whether the risk level is one of the three tiers.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// Urgency maps the risk tier onto its urgency level.
func (r RiskLevel) Urgency() Urgency {
	switch r {
	case RiskHigh:
		return UrgencyCritical
	case RiskMedium:
		return UrgencyElevated
	default:
		return UrgencyRoutine
	}
}

// RequiresAction reports whether the tier should raise an ActionRequired event.
func (r RiskLevel) RequiresAction() bool {
	return r == RiskHigh || r == RiskMedium
}

// LogFields returns structured logging fields for audit trails.
func (r RiskLevel) LogFields() map[string]any {
	return map[string]any{
		"risk_level":      string(r),
		"urgency":         string(r.Urgency()),
		"requires_action": r.RequiresAction(),
		"is_valid":        r.IsValid(),
	}
}

// IsValid validates the urgency level.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyCritical, UrgencyElevated, UrgencyRoutine:
		return true
	default:
		return false
	}
}

// String returns the string representation of the urgency.
func (u Urgency) String() string {
	return string(u)
}

// IsValid validates the signal type.
func (s SignalType) IsValid() bool {
	switch s {
	case SignalDNARepairRestoration, SignalMMHighRiskGene, SignalPostTreatmentPathway:
		return true
	default:
		return false
	}
}

// String returns the string representation of the signal type.
func (s SignalType) String() string {
	return string(s)
}

// IsValid validates the baseline source.
func (b BaselineSource) IsValid() bool {
	return b == BaselinePatient || b == BaselinePopulation
}

// NormalizeDisease lower-cases and trims a disease identifier.
func NormalizeDisease(disease string) string {
	return strings.ToLower(strings.TrimSpace(disease))
}

// NormalizeDrugClass folds case and separators so "PARP Inhibitor", "parp-inhibitor" and
// "parp_inhibitor" compare equal.
func NormalizeDrugClass(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	class = strings.NewReplacer("-", "_", " ", "_", "/", "_").Replace(class)
	for strings.Contains(class, "__") {
		class = strings.ReplaceAll(class, "__", "_")
	}
	return class
}

// NormalizeGeneSymbol upper-cases and trims a gene symbol.
func NormalizeGeneSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Clamp01 clamps v into [0,1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
