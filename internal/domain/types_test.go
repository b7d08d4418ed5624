package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		level          RiskLevel
		valid          bool
		urgency        Urgency
		requiresAction bool
	}{
		{RiskHigh, true, UrgencyCritical, true},
		{RiskMedium, true, UrgencyElevated, true},
		{RiskLow, true, UrgencyRoutine, false},
		{RiskLevel("SEVERE"), false, UrgencyRoutine, false},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.level.IsValid())
			assert.Equal(t, tt.urgency, tt.level.Urgency())
			assert.Equal(t, tt.requiresAction, tt.level.RequiresAction())

			fields := tt.level.LogFields()
			assert.Equal(t, string(tt.level), fields["risk_level"])
			assert.Equal(t, string(tt.urgency), fields["urgency"])
		})
	}
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, UrgencyCritical.IsValid())
	assert.False(t, Urgency("LATER").IsValid())

	assert.True(t, SignalMMHighRiskGene.IsValid())
	assert.False(t, SignalType("HRD_SCORE").IsValid())

	assert.True(t, BaselinePopulation.IsValid())
	assert.False(t, BaselineSource("").IsValid())
}

func TestNormalizeDrugClass(t *testing.T) {
	want := "parp_inhibitor"
	for _, in := range []string{"PARP Inhibitor", "parp-inhibitor", " parp_inhibitor ", "PARP - inhibitor"} {
		assert.Equal(t, want, NormalizeDrugClass(in), in)
	}
	assert.Equal(t, "anti_cd38", NormalizeDrugClass("Anti-CD38"))
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "ovarian", NormalizeDisease("  Ovarian "))
	assert.Equal(t, "DIS3", NormalizeGeneSymbol(" dis3"))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.42, Clamp01(0.42))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestFeatureSnapshot(t *testing.T) {
	src := map[string]float64{" dna_repair_capacity ": 0.4, "pathway_burden_ddr": 0.6}
	snap := NewFeatureSnapshot(src, BaselinePatient)

	src["pathway_burden_ddr"] = 0.99
	v, ok := snap.Value(FeaturePathwayBurdenDDR)
	assert.True(t, ok)
	assert.Equal(t, 0.6, v, "snapshot must not alias the caller's map")

	v, ok = snap.Value(FeatureDNARepairCapacity)
	assert.True(t, ok, "names are trimmed")
	assert.Equal(t, 0.4, v)

	assert.Equal(t, []string{FeatureDNARepairCapacity, FeaturePathwayBurdenDDR}, snap.Names())
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, BaselinePatient, snap.Source())

	out := snap.Values()
	out[FeatureDNARepairCapacity] = 0
	v, _ = snap.Value(FeatureDNARepairCapacity)
	assert.Equal(t, 0.4, v)

	var nilSnap *FeatureSnapshot
	_, ok = nilSnap.Value(FeatureDNARepairCapacity)
	assert.False(t, ok)
	assert.Zero(t, nilSnap.Len())
	assert.Empty(t, nilSnap.Values())
}

func TestMutationRecord_IsBenign(t *testing.T) {
	assert.True(t, MutationRecord{Gene: "TP53", Classification: "Likely Benign"}.IsBenign())
	assert.True(t, MutationRecord{Gene: "TP53", Classification: "benign"}.IsBenign())
	assert.False(t, MutationRecord{Gene: "TP53", Classification: "pathogenic"}.IsBenign())
	assert.False(t, MutationRecord{Gene: "TP53"}.IsBenign())
}

func TestTreatmentContext_Line(t *testing.T) {
	assert.Equal(t, 1, TreatmentContext{}.Line())
	assert.Equal(t, 1, TreatmentContext{TreatmentLine: -2}.Line())
	assert.Equal(t, 3, TreatmentContext{TreatmentLine: 3}.Line())
}

func TestDefaultModelConfig(t *testing.T) {
	cfg := DefaultModelConfig()

	assert.Equal(t, -0.15, cfg.RepairThreshold)
	assert.Equal(t, 10.0, cfg.SigmoidSteepness)
	assert.Equal(t, 0.70, cfg.HighRiskProbability)
	assert.Equal(t, 0.50, cfg.MediumRiskProbability)
	assert.Equal(t, 0.95, cfg.AdjustedCeiling)
	assert.InDelta(t, 1.0, cfg.DDRWeight+cfg.PI3KWeight+cfg.VEGFWeight, 1e-9)
	assert.NotEmpty(t, cfg.Version)
}
