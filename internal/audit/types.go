// Package audit keeps a durable trail of completed predictions.
// A Recorder subscribes to PredictionComplete events and saves one Record per prediction.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resistance-prediction-engine/internal/domain"
)

// Record is one persisted prediction.
type Record struct {
	ID           string           `json:"id"`
	PredictionID string           `json:"prediction_id"`
	PatientID    string           `json:"patient_id,omitempty"`
	Disease      string           `json:"disease"`
	RiskLevel    domain.RiskLevel `json:"risk_level"`
	Probability  float64          `json:"probability"`
	Confidence   float64          `json:"confidence"`
	SignalCount  int              `json:"signal_count"`
	Warnings     []string         `json:"warnings"`
	Payload      string           `json:"payload"` // full prediction JSON
	ModelVersion string           `json:"model_version"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Store defines the interface for audit storage operations.
type Store interface {
	// Save persists a record. Saving the same prediction twice is a no-op.
	Save(ctx context.Context, record *Record) error

	// Get returns the record for a prediction ID, or domain.ErrNotFound.
	Get(ctx context.Context, predictionID string) (*Record, error)

	// ListByPatient returns the newest records for a patient first.
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

// NewRecord builds the audit record for a prediction.
func NewRecord(patientID string, p *domain.Prediction) (*Record, error) {
	if p == nil {
		return nil, domain.ErrNilRequest
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction: %w", err)
	}

	version, _ := p.Provenance["model_version"].(string)
	warnings := append([]string{}, p.Warnings...)

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Record{
		ID:           uuid.New().String(),
		PredictionID: p.ID,
		PatientID:    patientID,
		Disease:      p.Disease,
		RiskLevel:    p.RiskLevel,
		Probability:  p.Probability,
		Confidence:   p.Confidence,
		SignalCount:  p.SignalCount,
		Warnings:     warnings,
		Payload:      string(payload),
		ModelVersion: version,
		CreatedAt:    createdAt,
	}, nil
}

// Prediction decodes the stored prediction payload.
func (r *Record) Prediction() (*domain.Prediction, error) {
	var p domain.Prediction
	if err := json.Unmarshal([]byte(r.Payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode prediction payload: %w", err)
	}
	return &p, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const selectColumns = `id, prediction_id, patient_id, disease, risk_level, probability, confidence,
		signal_count, warnings, payload, model_version, created_at`

// scanRecord scans a row into a Record.
func scanRecord(s scanner) (*Record, error) {
	r := &Record{}
	var risk, warnings string

	err := s.Scan(
		&r.ID, &r.PredictionID, &r.PatientID, &r.Disease, &risk,
		&r.Probability, &r.Confidence, &r.SignalCount,
		&warnings, &r.Payload, &r.ModelVersion, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RiskLevel = domain.RiskLevel(risk)
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r, nil
}

func encodeWarnings(w []string) (string, error) {
	if w == nil {
		w = []string{}
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode warnings: %w", err)
	}
	return string(b), nil
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
