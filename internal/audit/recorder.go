package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/events"
)

const defaultSaveTimeout = 5 * time.Second

// Recorder saves every completed prediction to a Store.
type Recorder struct {
	store   Store
	logger  *logrus.Logger
	timeout time.Duration

	dispatcher *events.Dispatcher
	handlerID  events.HandlerID
}

// NewRecorder creates a recorder over the store.
func NewRecorder(store Store, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		timeout: defaultSaveTimeout,
	}
}

// Attach registers the recorder for PredictionComplete events.
func (r *Recorder) Attach(d *events.Dispatcher) {
	r.dispatcher = d
	r.handlerID = d.Register(events.PredictionComplete, "audit_recorder", r.Handle)
}

// Detach removes the recorder from its dispatcher.
func (r *Recorder) Detach() {
	if r.dispatcher != nil {
		r.dispatcher.Unregister(r.handlerID)
		r.dispatcher = nil
	}
}

// Store returns the underlying store.
func (r *Recorder) Store() Store {
	return r.store
}

// Handle is the PredictionComplete handler.
func (r *Recorder) Handle(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(events.CompletePayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Type)
	}

	record, err := NewRecord(payload.PatientID, payload.Prediction)
	if err != nil {
		return err
	}

	// The request context may already be done once the response is written.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Save(saveCtx, record); err != nil {
		return fmt.Errorf("failed to record prediction %s: %w", record.PredictionID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"prediction_id": record.PredictionID,
		"risk_level":    record.RiskLevel,
	}).Debug("Prediction recorded")
	return nil
}
