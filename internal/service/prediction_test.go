package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prediction-engine/internal/baseline"
	"github.com/resistance-prediction-engine/internal/detector"
	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/events"
	"github.com/resistance-prediction-engine/pkg/external"
)

// MockPlaybook is a mock implementation of the PlaybookService interface
type MockPlaybook struct {
	mock.Mock
}

func (m *MockPlaybook) GetNextLineOptions(ctx context.Context, req *external.NextLineRequest) (*external.NextLineResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*external.NextLineResponse), args.Error(1)
}

// stubDetector always applies and returns a fixed record, error or panic.
type stubDetector struct {
	name     string
	record   *domain.SignalRecord
	err      error
	panicMsg string
}

func (s *stubDetector) Name() string                            { return s.name }
func (s *stubDetector) SignalType() domain.SignalType           { return domain.SignalPostTreatmentPathway }
func (s *stubDetector) Applicable(a detector.Availability) bool { return true }

func (s *stubDetector) Detect(ctx context.Context, in *detector.Inputs) (*domain.SignalRecord, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.record, s.err
}

func newTestService(t *testing.T, opts ...Option) (*PredictionService, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return NewPredictionService(domain.DefaultModelConfig(), baseline.NewStaticProvider(), logger, opts...), hook
}

func TestPredict_EndToEndOvarianSingleSignal(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:          "ovarian",
		CurrentFeatures:  map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
		BaselineFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.55},
		TreatmentLine:    1,
	})
	require.NoError(t, err)

	repair := p.Signal(domain.SignalDNARepairRestoration)
	require.NotNil(t, repair)
	assert.True(t, repair.Detected)
	assert.InDelta(t, 0.90, repair.Confidence, 1e-9)
	assert.InDelta(t, -0.25, repair.Payload.(domain.MechanismBreakdown).RepairChange, 1e-9)

	assert.Equal(t, 1, p.SignalCount)
	assert.Equal(t, domain.RiskMedium, p.RiskLevel)
	assert.Equal(t, domain.UrgencyElevated, p.Urgency)
	assert.InDelta(t, 1/(1+math.Exp(-1.0)), p.Probability, 1e-9)
	assert.Equal(t, 0.60, p.Confidence)
	assert.Equal(t, domain.ConfidenceCapMedium, p.ConfidenceCap)
	assert.Equal(t, domain.BaselinePatient, p.BaselineSource)
	assert.False(t, p.BaselinePenaltyApplied)
	assert.Empty(t, p.Warnings)
	assert.Empty(t, p.NextLineOptions)

	require.Len(t, p.RecommendedActions, 2)
	require.Len(t, p.Rationale, 2)
	assert.Contains(t, p.Rationale[0], "MEDIUM risk")

	assert.Equal(t, p.ID, p.Provenance["prediction_id"])
	assert.Equal(t, "resistance-engine-v1.0", p.Provenance["model_version"])
	assert.Equal(t, []string{"dna_repair_restoration"}, p.Provenance["detectors_used"])
	assert.Equal(t, 1, p.Provenance["treatment_line"])
}

func TestPredict_PopulationBaselinePenalty(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:         "ovarian",
		CurrentFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BaselinePopulation, p.BaselineSource)
	assert.True(t, p.BaselinePenaltyApplied)
	assert.True(t, p.HasWarning(domain.WarnInsufficientBaseline))

	// Population trust 0.60 on the signal, then the 0.80 baseline penalty.
	repair := p.Signal(domain.SignalDNARepairRestoration)
	require.NotNil(t, repair)
	assert.InDelta(t, 0.60, repair.Confidence, 1e-9)
	assert.InDelta(t, repair.Confidence*0.80, p.Confidence, 1e-9)
	assert.Empty(t, p.ConfidenceCap)
}

func TestPredict_BaselineProviderFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	failing := baseline.ProviderFunc(func(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
		return nil, errors.New("database down")
	})
	svc := NewPredictionService(domain.DefaultModelConfig(), failing, logger)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:         "ovarian",
		CurrentFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
	})
	require.NoError(t, err)
	assert.True(t, p.HasWarning(domain.WarnInsufficientBaseline))
	assert.True(t, p.HasWarning(domain.WarnBaselineProviderUnavailable))

	// Without any baseline the repair detector cannot evaluate.
	assert.Zero(t, p.Confidence)
	assert.Equal(t, domain.RiskLow, p.RiskLevel)
}

func TestPredict_DetectorIsolation(t *testing.T) {
	ok1 := &stubDetector{name: "first", record: &domain.SignalRecord{SignalType: domain.SignalDNARepairRestoration, Detected: true, Probability: 0.8, Confidence: 0.9}}
	ok3 := &stubDetector{name: "third", record: &domain.SignalRecord{SignalType: domain.SignalPostTreatmentPathway, Detected: true, Probability: 0.7, Confidence: 0.9}}

	tests := []struct {
		name   string
		broken detector.Detector
	}{
		{"error", &stubDetector{name: "second", err: errors.New("bad matrix")}},
		{"panic", &stubDetector{name: "second", panicMsg: "index out of range"}},
		{"nil record", &stubDetector{name: "second"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, hook := newTestService(t, WithDetectors(ok1, tt.broken, ok3))

			var p *domain.Prediction
			var err error
			require.NotPanics(t, func() {
				p, err = svc.Predict(context.Background(), &PredictionRequest{
					Disease:          "ovarian",
					BaselineFeatures: map[string]float64{"x": 1},
					CA125History:     []domain.CA125Measurement{{Value: 35}, {Value: 80}},
				})
			})
			require.NoError(t, err)

			require.Len(t, p.Signals, 2)
			assert.Equal(t, domain.SignalDNARepairRestoration, p.Signals[0].SignalType)
			assert.Equal(t, domain.SignalPostTreatmentPathway, p.Signals[1].SignalType)
			assert.Equal(t, []string{domain.DetectorErrorWarning(1)}, p.Warnings)
			assert.Equal(t, "DETECTOR_ERROR_1", p.Warnings[0])
			assert.Equal(t, []string{"first", "third"}, p.Provenance["detectors_used"])
			assert.Equal(t, domain.RiskHigh, p.RiskLevel)

			var warned bool
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.WarnLevel && e.Data["detector"] == "second" {
					warned = true
				}
			}
			assert.True(t, warned)
		})
	}
}

func TestPredict_UnsupportedConfiguration(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:          "melanoma",
		CurrentFeatures:  map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
		BaselineFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.55},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskLow, p.RiskLevel)
	assert.Zero(t, p.Probability)
	assert.Zero(t, p.Confidence)
	assert.Empty(t, p.Signals)
	assert.Zero(t, p.SignalCount)
	assert.Equal(t, domain.UrgencyRoutine, p.Urgency)
	assert.True(t, p.HasWarning(domain.WarnUnsupportedConfiguration))
}

func TestPredict_MyelomaAdjustment(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:          "Myeloma",
		Mutations:        []domain.MutationRecord{{Gene: "DIS3", Classification: "pathogenic"}},
		TreatmentLine:    2,
		CurrentDrugClass: "Proteasome Inhibitor",
		PriorTherapies:   []string{"proteasome-inhibitor"},
		TreatmentHistory: []domain.TreatmentEvent{{Regimen: "VRd", DrugClass: "proteasome-inhibitor", Line: 1}},
	})
	require.NoError(t, err)

	genes := p.Signal(domain.SignalMMHighRiskGene)
	require.NotNil(t, genes)
	assert.InDelta(t, 2.08/3.08, genes.Probability, 1e-9)

	assert.InDelta(t, 0.95, p.Probability, 1e-9)
	assert.Equal(t, domain.RiskMedium, p.RiskLevel)
	assert.Equal(t, domain.ConfidenceCapMedium, p.ConfidenceCap)
	assert.LessOrEqual(t, p.Confidence, 0.60)
	assert.Contains(t, p.Rationale[len(p.Rationale)-1], "cross-resistance")
	assert.Equal(t, 2, p.Provenance["treatment_line"])
}

func TestPredict_TreatmentHistoryDoesNotTriggerCrossResistance(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:          "myeloma",
		Mutations:        []domain.MutationRecord{{Gene: "DIS3", Classification: "pathogenic"}},
		TreatmentLine:    2,
		CurrentDrugClass: "Proteasome Inhibitor",
		TreatmentHistory: []domain.TreatmentEvent{{Regimen: "VRd", DrugClass: "proteasome-inhibitor", Line: 1}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.08/3.08*1.2, p.Probability, 1e-9)
	last := p.Rationale[len(p.Rationale)-1]
	assert.Contains(t, last, "line multiplier x1.20")
	assert.NotContains(t, last, "cross-resistance")
}

func TestPredict_HighRiskWithPlaybookAndEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dispatcher := events.NewDispatcher(logger)

	var mu sync.Mutex
	seen := map[events.EventType]int{}
	for _, et := range events.AllEventTypes() {
		dispatcher.Register(et, "counter", func(ctx context.Context, evt events.Event) error {
			mu.Lock()
			seen[evt.Type]++
			mu.Unlock()
			return nil
		})
	}

	playbook := new(MockPlaybook)
	playbook.On("GetNextLineOptions", mock.Anything, mock.MatchedBy(func(r *external.NextLineRequest) bool {
		return r.Disease == "ovarian" && r.PatientID == "PT-7" && len(r.DetectedResistance) >= 2
	})).Return(&external.NextLineResponse{
		Alternatives: []domain.NextLineOption{
			{Drug: "bevacizumab", DrugClass: "anti_vegf", Priority: 2},
			{Drug: "mirvetuximab", DrugClass: "adc", Priority: 1},
		},
	}, nil).Once()

	svc := NewPredictionService(domain.DefaultModelConfig(), baseline.NewStaticProvider(), logger,
		WithDispatcher(dispatcher), WithPlaybook(playbook))

	p, err := svc.Predict(context.Background(), highRiskOvarianRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, p.SignalCount)
	assert.Equal(t, domain.RiskHigh, p.RiskLevel)
	assert.Equal(t, domain.UrgencyCritical, p.Urgency)
	assert.GreaterOrEqual(t, p.Probability, 0.70)
	assert.Empty(t, p.ConfidenceCap)

	require.Len(t, p.NextLineOptions, 2)
	assert.Equal(t, "mirvetuximab", p.NextLineOptions[0].Drug)
	assert.Contains(t, p.RecommendedActions[0].Rationale, "escaped pathways")

	assert.Equal(t, 2, seen[events.SignalDetected])
	assert.Equal(t, 0, seen[events.SignalAbsent])
	assert.Equal(t, 1, seen[events.ActionRequired])
	assert.Equal(t, 1, seen[events.PredictionComplete])
	playbook.AssertExpectations(t)
}

func TestPredict_HandlersCannotMutateResult(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dispatcher := events.NewDispatcher(logger)

	dispatcher.Register(events.SignalDetected, "tamper_signal", func(ctx context.Context, evt events.Event) error {
		evt.Payload.(events.SignalPayload).Signal.Probability = 0
		return nil
	})
	dispatcher.Register(events.ActionRequired, "tamper_actions", func(ctx context.Context, evt events.Event) error {
		evt.Payload.(events.ActionPayload).Actions[0].Action = "tampered"
		return nil
	})
	dispatcher.Register(events.PredictionComplete, "tamper_prediction", func(ctx context.Context, evt events.Event) error {
		pred := evt.Payload.(events.CompletePayload).Prediction
		pred.RiskLevel = domain.RiskLow
		pred.Warnings = append(pred.Warnings, "TAMPERED")
		pred.Rationale[0] = "tampered"
		pred.Signals[0].Detected = false
		return nil
	})

	svc := NewPredictionService(domain.DefaultModelConfig(), baseline.NewStaticProvider(), logger, WithDispatcher(dispatcher))
	p, err := svc.Predict(context.Background(), highRiskOvarianRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.RiskHigh, p.RiskLevel)
	assert.False(t, p.HasWarning("TAMPERED"))
	assert.NotEqual(t, "tampered", p.Rationale[0])
	assert.NotEqual(t, "tampered", p.RecommendedActions[0].Action)
	for _, sig := range p.Signals {
		if sig.Detected {
			assert.Positive(t, sig.Probability)
		}
	}
	assert.True(t, p.Signals[0].Detected)
}

func TestPredict_PlaybookFailureDegrades(t *testing.T) {
	playbook := new(MockPlaybook)
	playbook.On("GetNextLineOptions", mock.Anything, mock.Anything).Return(nil, external.ErrPlaybookUnavailable)

	svc, _ := newTestService(t, WithPlaybook(playbook))

	p, err := svc.Predict(context.Background(), highRiskOvarianRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, p.RiskLevel)
	assert.NotNil(t, p.NextLineOptions)
	assert.Empty(t, p.NextLineOptions)
	assert.True(t, p.HasWarning(domain.WarnPlaybookUnavailable))
}

func TestPredict_LowRiskSkipsPlaybook(t *testing.T) {
	playbook := new(MockPlaybook)
	svc, _ := newTestService(t, WithPlaybook(playbook))

	p, err := svc.Predict(context.Background(), &PredictionRequest{
		Disease:          "ovarian",
		CurrentFeatures:  map[string]float64{domain.FeatureDNARepairCapacity: 0.55},
		BaselineFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.56},
		CA125History:     []domain.CA125Measurement{{Value: 20}, {Value: 21}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, p.RiskLevel)
	playbook.AssertNotCalled(t, "GetNextLineOptions", mock.Anything, mock.Anything)
}

func TestPredict_Errors(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNilRequest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Predict(ctx, &PredictionRequest{
		Disease:          "ovarian",
		CurrentFeatures:  map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
		BaselineFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.55},
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = svc.Predict(ctx, &PredictionRequest{
		Disease:         "ovarian",
		CurrentFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.30},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_ConcurrentRequestsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	results := make([]*domain.Prediction, 20)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			change := 0.05 * float64(i%2)
			p, err := svc.Predict(context.Background(), &PredictionRequest{
				Disease:          "ovarian",
				CurrentFeatures:  map[string]float64{domain.FeatureDNARepairCapacity: 0.30 + change},
				BaselineFeatures: map[string]float64{domain.FeatureDNARepairCapacity: 0.55},
			})
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, p := range results {
		require.NotNil(t, p)
		assert.False(t, ids[p.ID])
		ids[p.ID] = true
		assert.Equal(t, results[i%2].Probability, p.Probability)
	}
}

func TestPredictionRequest_Validate(t *testing.T) {
	var nilReq *PredictionRequest
	assert.ErrorIs(t, nilReq.Validate(), domain.ErrNilRequest)

	var verr *domain.ValidationError
	err := (&PredictionRequest{}).Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "disease", verr.Field)

	err = (&PredictionRequest{Disease: "ovarian", TreatmentLine: -1}).Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "treatment_line", verr.Field)

	err = (&PredictionRequest{Disease: "ovarian", ExpressionData: map[string]float64{"BRCA1": -1}}).Validate()
	require.ErrorAs(t, err, &verr)

	err = (&PredictionRequest{Disease: "ovarian", Mutations: []domain.MutationRecord{{Gene: " "}}}).Validate()
	require.ErrorAs(t, err, &verr)

	assert.NoError(t, highRiskOvarianRequest().Validate())
}

func highRiskOvarianRequest() *PredictionRequest {
	now := time.Now()
	return &PredictionRequest{
		PatientID: "PT-7",
		Disease:   "ovarian",
		CurrentFeatures: map[string]float64{
			domain.FeatureDNARepairCapacity: 0.10,
			domain.FeaturePathwayBurdenDDR:  0.20,
		},
		BaselineFeatures: map[string]float64{
			domain.FeatureDNARepairCapacity: 0.55,
			domain.FeaturePathwayBurdenDDR:  0.60,
		},
		CA125History: []domain.CA125Measurement{
			{Value: 35, MeasuredAt: now.AddDate(0, -2, 0)},
			{Value: 60, MeasuredAt: now.AddDate(0, -1, 0)},
			{Value: 140, MeasuredAt: now},
		},
		ExpressionData: map[string]float64{
			"BRCA1": 10.5, "PIK3CA": 10.5, "VEGFA": 10.5,
		},
		CurrentRegimen:   "carboplatin/olaparib",
		CurrentDrugClass: "parp_inhibitor",
	}
}
