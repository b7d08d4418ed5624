package events

import (
	"context"
	"time"

	"github.com/resistance-prediction-engine/internal/domain"
)

// SignalPayload accompanies SignalDetected and SignalAbsent.
type SignalPayload struct {
	PredictionID string               `json:"prediction_id"`
	PatientID    string               `json:"patient_id,omitempty"`
	Disease      string               `json:"disease"`
	Signal       *domain.SignalRecord `json:"signal"`
}

// ActionPayload accompanies ActionRequired.
type ActionPayload struct {
	PredictionID string                     `json:"prediction_id"`
	PatientID    string                     `json:"patient_id,omitempty"`
	Disease      string                     `json:"disease"`
	RiskLevel    domain.RiskLevel           `json:"risk_level"`
	Urgency      domain.Urgency             `json:"urgency"`
	Actions      []domain.RecommendedAction `json:"actions"`
}

// CompletePayload accompanies PredictionComplete.
type CompletePayload struct {
	PatientID  string             `json:"patient_id,omitempty"`
	Prediction *domain.Prediction `json:"prediction"`
	Duration   time.Duration      `json:"duration"`
}

// EmitSignalDetected emits SignalDetected.
func (d *Dispatcher) EmitSignalDetected(ctx context.Context, p SignalPayload) int {
	return d.Emit(ctx, SignalDetected, p)
}

// EmitSignalAbsent emits SignalAbsent.
func (d *Dispatcher) EmitSignalAbsent(ctx context.Context, p SignalPayload) int {
	return d.Emit(ctx, SignalAbsent, p)
}

// EmitActionRequired emits ActionRequired.
func (d *Dispatcher) EmitActionRequired(ctx context.Context, p ActionPayload) int {
	return d.Emit(ctx, ActionRequired, p)
}

// EmitPredictionComplete emits PredictionComplete.
func (d *Dispatcher) EmitPredictionComplete(ctx context.Context, p CompletePayload) int {
	return d.Emit(ctx, PredictionComplete, p)
}
