package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/resistance-prediction-engine/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared between calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSchema mirrors migrations/000002_create_prediction_audit for SQLite.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS prediction_audit (
		id TEXT PRIMARY KEY,
		prediction_id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL DEFAULT '',
		disease TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		probability REAL NOT NULL,
		confidence REAL NOT NULL,
		signal_count INTEGER NOT NULL,
		warnings TEXT NOT NULL DEFAULT '[]',
		payload TEXT NOT NULL,
		model_version TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_prediction_audit_patient ON prediction_audit(patient_id);
	CREATE INDEX IF NOT EXISTS idx_prediction_audit_created ON prediction_audit(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save inserts the record, ignoring predictions that were already recorded.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	warnings, err := encodeWarnings(record.Warnings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prediction_audit (
			id, prediction_id, patient_id, disease, risk_level, probability, confidence,
			signal_count, warnings, payload, model_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prediction_id) DO NOTHING
	`,
		record.ID,
		record.PredictionID,
		record.PatientID,
		record.Disease,
		string(record.RiskLevel),
		record.Probability,
		record.Confidence,
		record.SignalCount,
		warnings,
		record.Payload,
		record.ModelVersion,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Get retrieves the record for a prediction.
func (s *SQLiteStore) Get(ctx context.Context, predictionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM prediction_audit WHERE prediction_id = ?", predictionID)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return r, nil
}

// ListByPatient returns the newest records for a patient first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM prediction_audit WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?",
		patientID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the total number of audit records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM prediction_audit").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
