package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/resistance-prediction-engine/internal/baseline"
	"github.com/resistance-prediction-engine/internal/detector"
	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/events"
	"github.com/resistance-prediction-engine/pkg/external"
)

// PredictionService orchestrates one resistance prediction: baseline resolution, concurrent
// detection, aggregation, stratification, actions, optional playbook enrichment and event emission.
// It holds no per-request state and is safe for concurrent use.
type PredictionService struct {
	cfg        domain.ModelConfig
	detectors  []detector.Detector
	baseline   baseline.Provider
	playbook   PlaybookService
	dispatcher *events.Dispatcher
	logger     *logrus.Logger
}

// Option configures a PredictionService.
type Option func(*PredictionService)

// WithDetectors replaces the built-in detector registry. Order is the invocation order.
func WithDetectors(detectors ...detector.Detector) Option {
	return func(s *PredictionService) { s.detectors = detectors }
}

// WithPlaybook enables next-line enrichment.
func WithPlaybook(p PlaybookService) Option {
	return func(s *PredictionService) { s.playbook = p }
}

// WithDispatcher sets the event dispatcher predictions are emitted on.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(s *PredictionService) { s.dispatcher = d }
}

// NewPredictionService creates a new prediction service
func NewPredictionService(cfg domain.ModelConfig, provider baseline.Provider, logger *logrus.Logger, opts ...Option) *PredictionService {
	s := &PredictionService{
		cfg:       cfg,
		detectors: detector.Registry(cfg),
		baseline:  provider,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = events.NewDispatcher(logger)
	}
	return s
}

// Detectors returns the registered detectors in invocation order.
func (s *PredictionService) Detectors() []detector.Detector {
	return append([]detector.Detector(nil), s.detectors...)
}

// ModelVersion returns the model version tag recorded in provenance.
func (s *PredictionService) ModelVersion() string {
	return s.cfg.Version
}

type detectorOutcome struct {
	record *domain.SignalRecord
	err    error
}

// Predict runs the full pipeline. Subsystem failures degrade into warnings on the returned
// prediction; the only errors are a nil request and caller cancellation.
func (s *PredictionService) Predict(ctx context.Context, req *PredictionRequest) (*domain.Prediction, error) {
	if req == nil {
		return nil, domain.ErrNilRequest
	}
	startTime := time.Now()
	predictionID := uuid.New().String()
	disease := domain.NormalizeDisease(req.Disease)

	logger := s.logger.WithFields(logrus.Fields{
		"prediction_id": predictionID,
		"disease":       disease,
	})
	logger.Info("Starting resistance prediction")

	var warnings []string

	// Step 1: Normalize inputs and resolve the baseline
	current := domain.NewFeatureSnapshot(req.CurrentFeatures, domain.BaselinePatient)
	baselineSnap, baselineWarnings, err := s.resolveBaseline(ctx, disease, req.BaselineFeatures, logger)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, baselineWarnings...)

	treatment := domain.TreatmentContext{
		TreatmentLine:    req.TreatmentLine,
		PriorTherapies:   priorTherapies(req),
		CurrentDrugClass: req.CurrentDrugClass,
	}
	treatment.TreatmentLine = treatment.Line()
	ca125Available := len(req.CA125History) >= s.cfg.MinCA125Measurements

	inputs := &detector.Inputs{
		Disease:    disease,
		Current:    current,
		Baseline:   baselineSnap,
		Mutations:  req.Mutations,
		Expression: req.ExpressionData,
		Treatment:  treatment,
	}

	// Step 2: Select applicable detectors
	selected := s.selectDetectors(inputs.Availability())
	if len(selected) == 0 {
		warnings = append(warnings, domain.WarnUnsupportedConfiguration)
		logger.Warn("No detector applies to this disease and input combination")
	}

	// Step 3: Fan out detection and collect signals in detector order
	signals, detectorWarnings, used, err := s.runDetectors(ctx, selected, inputs, logger)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, detectorWarnings...)

	// Step 4: Aggregate and adjust for treatment line
	signalCount := CountDetected(signals)
	base := AggregateProbability(signals)
	adj := AdjustForTreatment(base, disease, treatment, s.cfg)

	// Step 5: Stratify risk
	risk := Stratify(adj.Adjusted, signalCount, ca125Available, s.cfg)

	// Step 6: Compute confidence
	conf := ComputeConfidence(signals, baselineSnap.Source(), signalCount, ca125Available, s.cfg)

	// Step 7: Determine actions
	actions := DetermineActions(disease, risk, signals)

	// Step 8: Optional playbook enrichment
	options, handoffs, enrichWarnings := s.enrich(ctx, req, disease, treatment, risk, signals, logger)
	warnings = append(warnings, enrichWarnings...)

	// Step 9: Assemble rationale and provenance
	rationale := BuildRationale(adj.Adjusted, risk, conf.Value, signals, adj)

	if warnings == nil {
		warnings = []string{}
	}
	provenance := map[string]any{
		"prediction_id":  predictionID,
		"model_version":  s.cfg.Version,
		"detectors_used": used,
		"data_availability": map[string]bool{
			"current_features":  current.Len() > 0,
			"patient_baseline":  baselineSnap.Source() == domain.BaselinePatient,
			"ca125_history":     ca125Available,
			"treatment_history": len(req.TreatmentHistory) > 0,
			"mutations":         len(req.Mutations) > 0,
			"expression_data":   len(req.ExpressionData) > 0,
		},
		"disease":          disease,
		"treatment_line":   treatment.TreatmentLine,
		"base_probability": base,
		"warnings":         append([]string(nil), warnings...),
	}
	if len(handoffs) > 0 {
		provenance["downstream_handoffs"] = handoffs
	}

	prediction := &domain.Prediction{
		ID:                     predictionID,
		Disease:                disease,
		RiskLevel:              risk,
		Probability:            domain.Clamp01(adj.Adjusted),
		Confidence:             conf.Value,
		ConfidenceCap:          conf.Cap,
		Signals:                signals,
		SignalCount:            signalCount,
		Urgency:                risk.Urgency(),
		RecommendedActions:     actions,
		NextLineOptions:        options,
		Rationale:              rationale,
		Provenance:             provenance,
		Warnings:               warnings,
		BaselineSource:         baselineSnap.Source(),
		BaselinePenaltyApplied: conf.PenaltyApplied,
		CreatedAt:              time.Now().UTC(),
	}

	// Step 10: Emit events and return
	s.emit(ctx, req.PatientID, prediction, time.Since(startTime))

	logger.WithFields(risk.LogFields()).WithFields(logrus.Fields{
		"probability":     prediction.Probability,
		"confidence":      prediction.Confidence,
		"signal_count":    signalCount,
		"warnings":        len(warnings),
		"processing_time": time.Since(startTime),
	}).Info("Resistance prediction completed")

	return prediction, nil
}

// resolveBaseline returns the patient baseline when supplied, otherwise the population average.
func (s *PredictionService) resolveBaseline(ctx context.Context, disease string, supplied map[string]float64, logger *logrus.Entry) (*domain.FeatureSnapshot, []string, error) {
	if len(supplied) > 0 {
		return domain.NewFeatureSnapshot(supplied, domain.BaselinePatient), nil, nil
	}

	warnings := []string{domain.WarnInsufficientBaseline}
	if s.baseline == nil {
		warnings = append(warnings, domain.WarnBaselineProviderUnavailable)
		return domain.NewFeatureSnapshot(nil, domain.BaselinePopulation), warnings, nil
	}

	snap, err := s.baseline.PopulationBaseline(ctx, disease)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		logger.WithError(err).Warn("Population baseline unavailable, continuing without baseline")
		warnings = append(warnings, domain.WarnBaselineProviderUnavailable)
		return domain.NewFeatureSnapshot(nil, domain.BaselinePopulation), warnings, nil
	}
	if snap.Source() != domain.BaselinePopulation {
		snap = domain.NewFeatureSnapshot(snap.Values(), domain.BaselinePopulation)
	}
	return snap, warnings, nil
}

func (s *PredictionService) selectDetectors(a detector.Availability) []detector.Detector {
	var selected []detector.Detector
	for _, d := range s.detectors {
		if d.Applicable(a) {
			selected = append(selected, d)
		}
	}
	return selected
}

// runDetectors runs the selected detectors concurrently. A failing detector is excluded and turns
// into a DETECTOR_ERROR_<i> warning; only caller cancellation aborts the whole run.
func (s *PredictionService) runDetectors(ctx context.Context, selected []detector.Detector, inputs *detector.Inputs, logger *logrus.Entry) ([]*domain.SignalRecord, []string, []string, error) {
	outcomes := make([]detectorOutcome, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range selected {
		g.Go(func() error {
			rec, err := invokeDetector(gctx, d, inputs)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			outcomes[i] = detectorOutcome{record: rec, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("Prediction cancelled during detection")
		return nil, nil, nil, err
	}

	signals := make([]*domain.SignalRecord, 0, len(selected))
	used := make([]string, 0, len(selected))
	var warnings []string
	for i, out := range outcomes {
		if out.err != nil {
			derr := &domain.DetectorError{Detector: selected[i].Name(), Index: i, Err: out.err}
			logger.WithFields(logrus.Fields{
				"detector": derr.Detector,
				"index":    i,
			}).WithError(derr).Warn("Detector failed, excluding from aggregation")
			warnings = append(warnings, domain.DetectorErrorWarning(i))
			continue
		}
		signals = append(signals, out.record)
		used = append(used, selected[i].Name())
	}
	return signals, warnings, used, nil
}

// invokeDetector calls one detector, turning panics and missing records into errors.
func invokeDetector(ctx context.Context, d detector.Detector, inputs *detector.Inputs) (rec *domain.SignalRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	rec, err = d.Detect(ctx, inputs)
	if err == nil && rec == nil {
		err = errors.New("detector returned no signal record")
	}
	return rec, err
}

// enrich asks the playbook service for next-line options. Skipped for LOW risk or when no playbook
// is configured; failures become a warning and an empty option list.
func (s *PredictionService) enrich(ctx context.Context, req *PredictionRequest, disease string, treatment domain.TreatmentContext, risk domain.RiskLevel, signals []*domain.SignalRecord, logger *logrus.Entry) ([]domain.NextLineOption, map[string]external.Handoff, []string) {
	options := []domain.NextLineOption{}
	if risk == domain.RiskLow || s.playbook == nil {
		return options, nil, nil
	}

	resp, err := s.playbook.GetNextLineOptions(ctx, &external.NextLineRequest{
		Disease:            disease,
		DetectedResistance: detectedResistance(signals),
		CurrentRegimen:     req.CurrentRegimen,
		CurrentDrugClass:   treatment.CurrentDrugClass,
		TreatmentLine:      treatment.TreatmentLine,
		PriorTherapies:     treatment.PriorTherapies,
		PatientID:          req.PatientID,
	})
	if err != nil {
		logger.WithError(err).Warn("Playbook service unavailable, returning prediction without next-line options")
		return options, nil, []string{domain.WarnPlaybookUnavailable}
	}
	if resp == nil {
		return options, nil, nil
	}

	options = append(options, resp.Alternatives...)
	sort.SliceStable(options, func(i, j int) bool { return options[i].Priority < options[j].Priority })
	return options, resp.DownstreamHandoffs, nil
}

// detectedResistance lists the detected mechanisms: signal types, then matched genes and escaped
// pathways from provenance.
func detectedResistance(signals []*domain.SignalRecord) []string {
	var out []string
	for _, s := range signals {
		if !s.Detected {
			continue
		}
		out = append(out, string(s.SignalType))
		out = append(out, stringSlice(s.Provenance["matched_genes"])...)
		out = append(out, stringSlice(s.Provenance["escaped_pathways"])...)
	}
	return out
}

func (s *PredictionService) emit(ctx context.Context, patientID string, p *domain.Prediction, elapsed time.Duration) {
	for _, sig := range p.Signals {
		payload := events.SignalPayload{
			PredictionID: p.ID,
			PatientID:    patientID,
			Disease:      p.Disease,
			Signal:       sig.Clone(),
		}
		if sig.Detected {
			s.dispatcher.EmitSignalDetected(ctx, payload)
		} else {
			s.dispatcher.EmitSignalAbsent(ctx, payload)
		}
	}

	if p.RiskLevel.RequiresAction() {
		s.dispatcher.EmitActionRequired(ctx, events.ActionPayload{
			PredictionID: p.ID,
			PatientID:    patientID,
			Disease:      p.Disease,
			RiskLevel:    p.RiskLevel,
			Urgency:      p.Urgency,
			Actions:      append([]domain.RecommendedAction(nil), p.RecommendedActions...),
		})
	}

	s.dispatcher.EmitPredictionComplete(ctx, events.CompletePayload{
		PatientID:  patientID,
		Prediction: p.Clone(),
		Duration:   elapsed,
	})
}
