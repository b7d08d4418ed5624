package service

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resistance-prediction-engine/internal/domain"
)

func TestAggregateProbability_Bounds(t *testing.T) {
	cfg := domain.DefaultModelConfig()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		n := rng.Intn(5)
		signals := make([]*domain.SignalRecord, 0, n)
		anyActive := false
		for j := 0; j < n; j++ {
			conf := rng.Float64()
			if rng.Intn(3) == 0 {
				conf = 0
			}
			if conf > 0 {
				anyActive = true
			}
			signals = append(signals, &domain.SignalRecord{
				Detected:    rng.Intn(2) == 0,
				Probability: rng.Float64(),
				Confidence:  conf,
			})
		}

		p := AggregateProbability(signals)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)

		for _, source := range []domain.BaselineSource{domain.BaselinePatient, domain.BaselinePopulation} {
			for _, ca125 := range []bool{true, false} {
				c := ComputeConfidence(signals, source, CountDetected(signals), ca125, cfg)
				assert.GreaterOrEqual(t, c.Value, 0.0)
				assert.LessOrEqual(t, c.Value, 1.0)
				assert.Equal(t, anyActive, c.Value > 0, "confidence must be zero iff no signal is active")
			}
		}
	}
}

func TestAggregateProbability_Weighted(t *testing.T) {
	signals := []*domain.SignalRecord{
		{Probability: 0.9, Confidence: 0.9},
		{Probability: 0.3, Confidence: 0.3},
		{Probability: 1.0, Confidence: 0},
	}
	want := (0.9*0.9 + 0.3*0.3) / (0.9 + 0.3)
	assert.InDelta(t, want, AggregateProbability(signals), 1e-9)
	assert.Zero(t, AggregateProbability(nil))
	assert.Zero(t, AggregateProbability([]*domain.SignalRecord{{Probability: 0.8}}))
}

func TestCountDetected(t *testing.T) {
	signals := []*domain.SignalRecord{
		{Detected: true, Confidence: 0.9},
		{Detected: false, Confidence: 0.9},
		{Detected: true, Confidence: 0},
	}
	assert.Equal(t, 2, CountDetected(signals))
}

func TestStratify(t *testing.T) {
	cfg := domain.DefaultModelConfig()

	tests := []struct {
		name        string
		probability float64
		signalCount int
		ca125       bool
		want        domain.RiskLevel
	}{
		{"boundary high", 0.70, 2, true, domain.RiskHigh},
		{"just below high", 0.6999, 2, true, domain.RiskMedium},
		{"medium floor with many signals", 0.50, 3, true, domain.RiskMedium},
		{"medium band without signals", 0.65, 0, false, domain.RiskMedium},
		{"single signal is medium", 0.10, 1, true, domain.RiskMedium},
		{"high probability single signal", 0.95, 1, false, domain.RiskMedium},
		{"high without ca125 but two signals", 0.80, 2, false, domain.RiskHigh},
		{"low", 0.49, 0, true, domain.RiskLow},
		{"low with two weak signals", 0.30, 2, true, domain.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stratify(tt.probability, tt.signalCount, tt.ca125, cfg))
		})
	}
}

func TestAdjustForTreatment(t *testing.T) {
	cfg := domain.DefaultModelConfig()

	tests := []struct {
		name        string
		base        float64
		disease     string
		treatment   domain.TreatmentContext
		wantApplied bool
		want        float64
	}{
		{"first line ovarian unchanged", 0.5, "ovarian", domain.TreatmentContext{TreatmentLine: 1}, false, 0.5},
		{"unset line treated as first", 0.5, "ovarian", domain.TreatmentContext{}, false, 0.5},
		{"second line", 0.5, "ovarian", domain.TreatmentContext{TreatmentLine: 2}, true, 0.6},
		{"third line", 0.5, "ovarian", domain.TreatmentContext{TreatmentLine: 3}, true, 0.7},
		{"fifth line", 0.5, "ovarian", domain.TreatmentContext{TreatmentLine: 5}, true, 0.7},
		{"myeloma first line applies", 0.5, "myeloma", domain.TreatmentContext{TreatmentLine: 1}, true, 0.5},
		{
			"cross resistance stacks",
			0.5, "ovarian",
			domain.TreatmentContext{TreatmentLine: 2, CurrentDrugClass: "PARP Inhibitor", PriorTherapies: []string{"platinum", "parp-inhibitor"}},
			true, 0.5 * 1.2 * 1.3,
		},
		{
			"ceiling",
			0.6, "myeloma",
			domain.TreatmentContext{TreatmentLine: 3, CurrentDrugClass: "imid", PriorTherapies: []string{"IMiD"}},
			true, 0.95,
		},
		{
			"myeloma base above ceiling",
			0.99, "myeloma",
			domain.TreatmentContext{TreatmentLine: 1},
			true, 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := AdjustForTreatment(tt.base, tt.disease, tt.treatment, cfg)
			assert.Equal(t, tt.wantApplied, adj.Applied)
			assert.InDelta(t, tt.want, adj.Adjusted, 1e-9)
			assert.LessOrEqual(t, adj.Adjusted, 0.95+1e-12)
		})
	}

	adj := AdjustForTreatment(0.5, "ovarian", domain.TreatmentContext{TreatmentLine: 2, CurrentDrugClass: "PARP Inhibitor", PriorTherapies: []string{"parp_inhibitor"}}, cfg)
	assert.True(t, adj.CrossResistance)
	assert.InDelta(t, 1.56, adj.Multiplier, 1e-9)
}

func TestComputeConfidence(t *testing.T) {
	cfg := domain.DefaultModelConfig()
	signals := []*domain.SignalRecord{
		{Detected: true, Confidence: 0.9},
		{Detected: true, Confidence: 0.7},
	}

	t.Run("population penalty", func(t *testing.T) {
		res := ComputeConfidence(signals, domain.BaselinePopulation, 2, false, cfg)
		assert.True(t, res.PenaltyApplied)
		assert.InDelta(t, 0.8, res.PrePenalty, 1e-9)
		assert.InDelta(t, res.PrePenalty*0.80, res.Value, 1e-9)
		assert.Empty(t, res.Cap)
	})

	t.Run("patient baseline no penalty", func(t *testing.T) {
		res := ComputeConfidence(signals, domain.BaselinePatient, 2, false, cfg)
		assert.False(t, res.PenaltyApplied)
		assert.InDelta(t, 0.8, res.Value, 1e-9)
	})

	t.Run("sparse evidence cap lowers value", func(t *testing.T) {
		res := ComputeConfidence(signals[:1], domain.BaselinePatient, 1, false, cfg)
		assert.Equal(t, 0.60, res.Value)
		assert.Equal(t, domain.ConfidenceCapMedium, res.Cap)
	})

	t.Run("cap marker only when it lowered the value", func(t *testing.T) {
		low := []*domain.SignalRecord{{Detected: true, Confidence: 0.5}}
		res := ComputeConfidence(low, domain.BaselinePatient, 1, false, cfg)
		assert.InDelta(t, 0.5, res.Value, 1e-9)
		assert.Empty(t, res.Cap)
	})

	t.Run("ca125 available disables cap", func(t *testing.T) {
		res := ComputeConfidence(signals[:1], domain.BaselinePatient, 1, true, cfg)
		assert.InDelta(t, 0.9, res.Value, 1e-9)
		assert.Empty(t, res.Cap)
	})

	t.Run("no active signals", func(t *testing.T) {
		res := ComputeConfidence([]*domain.SignalRecord{{Confidence: 0}}, domain.BaselinePopulation, 0, false, cfg)
		assert.Zero(t, res.Value)
		assert.Empty(t, res.Cap)
	})
}

func TestDetermineActions(t *testing.T) {
	repair := &domain.SignalRecord{
		SignalType: domain.SignalDNARepairRestoration,
		Detected:   true,
		Provenance: map[string]any{"escaped_pathways": []string{"pathway_burden_ddr"}},
	}
	genes := &domain.SignalRecord{
		SignalType: domain.SignalMMHighRiskGene,
		Detected:   true,
		Provenance: map[string]any{"matched_genes": []string{"DIS3", "TP53"}},
	}

	t.Run("ovarian high carries escaped pathways", func(t *testing.T) {
		actions := DetermineActions(domain.DiseaseOvarian, domain.RiskHigh, []*domain.SignalRecord{repair})
		assert.Len(t, actions, 3)
		for i, a := range actions {
			assert.Equal(t, i+1, a.Priority)
			assert.Contains(t, a.Rationale, "pathway_burden_ddr")
		}
	})

	t.Run("myeloma high carries genes", func(t *testing.T) {
		actions := DetermineActions(domain.DiseaseMyeloma, domain.RiskHigh, []*domain.SignalRecord{genes})
		assert.Contains(t, actions[1].Rationale, "DIS3, TP53")
	})

	t.Run("medium has no mechanism detail", func(t *testing.T) {
		actions := DetermineActions(domain.DiseaseOvarian, domain.RiskMedium, []*domain.SignalRecord{repair})
		assert.Len(t, actions, 2)
		assert.NotContains(t, actions[0].Rationale, "pathway_burden_ddr")
	})

	t.Run("generic catalog", func(t *testing.T) {
		actions := DetermineActions("breast", domain.RiskLow, nil)
		assert.Len(t, actions, 1)
		assert.Equal(t, "per standard schedule", actions[0].Timeframe)
	})
}

func TestBuildRationale_Order(t *testing.T) {
	signals := []*domain.SignalRecord{
		{SignalType: domain.SignalDNARepairRestoration, Detected: true, Rationale: "repair restored"},
		{SignalType: domain.SignalPostTreatmentPathway, Detected: false, Rationale: "pathways quiet"},
	}
	adj := Adjustment{Applied: true, Base: 0.5, Adjusted: 0.6, LineMultiplier: 1.2, Multiplier: 1.2}

	lines := BuildRationale(0.6, domain.RiskMedium, 0.6, signals, adj)
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "MEDIUM risk")
	assert.Contains(t, lines[1], "DNA_REPAIR_RESTORATION detected")
	assert.Contains(t, lines[2], "POST_TREATMENT_PATHWAY not detected")
	assert.Contains(t, lines[3], "Treatment adjustment")

	lines = BuildRationale(0, domain.RiskLow, 0, nil, Adjustment{})
	assert.Len(t, lines, 1)
}
