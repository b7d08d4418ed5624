package baseline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/domain"
)

// PostgresProvider reads cohort averages from the population_baselines table.
type PostgresProvider struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresProvider creates a new Postgres-backed provider
func NewPostgresProvider(db *pgxpool.Pool, logger *logrus.Logger) *PostgresProvider {
	return &PostgresProvider{
		db:  db,
		log: logger,
	}
}

// PopulationBaseline implements Provider. It returns domain.ErrNotFound when the disease has no rows.
func (p *PostgresProvider) PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
	query := `
		SELECT feature_name, mean_value
		FROM population_baselines
		WHERE disease = $1`

	key := domain.NormalizeDisease(disease)
	rows, err := p.db.Query(ctx, query, key)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"disease": key,
			"error":   err,
		}).Error("Failed to query population baseline")
		return nil, fmt.Errorf("querying population baseline: %w", err)
	}
	defer rows.Close()

	values := make(map[string]float64)
	for rows.Next() {
		var name string
		var mean float64
		if err := rows.Scan(&name, &mean); err != nil {
			return nil, fmt.Errorf("scanning population baseline row: %w", err)
		}
		values[name] = mean
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating population baseline rows: %w", err)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("population baseline for %q: %w", key, domain.ErrNotFound)
	}

	return domain.NewFeatureSnapshot(values, domain.BaselinePopulation), nil
}

// Upsert stores one feature average for a disease.
func (p *PostgresProvider) Upsert(ctx context.Context, disease, feature string, mean float64, cohortSize int) error {
	query := `
		INSERT INTO population_baselines (disease, feature_name, mean_value, cohort_size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (disease, feature_name)
		DO UPDATE SET mean_value = EXCLUDED.mean_value,
		              cohort_size = EXCLUDED.cohort_size,
		              updated_at = NOW()`

	if _, err := p.db.Exec(ctx, query, domain.NormalizeDisease(disease), feature, mean, cohortSize); err != nil {
		return fmt.Errorf("upserting population baseline: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"disease": disease,
		"feature": feature,
	}).Debug("Population baseline stored")

	return nil
}
