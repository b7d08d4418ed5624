package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/resistance-prediction-engine/internal/database"
	"github.com/resistance-prediction-engine/internal/domain"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    5,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		SSLMode:     "disable",
	}

	runner, err := database.NewMigrationRunner(cfg.URL(), "../../migrations", logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := runner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	_ = runner.Close()

	db, err := database.NewConnection(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

func TestPostgresProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	p := NewPostgresProvider(db.Pool, logger)

	_, err := p.PopulationBaseline(ctx, "ovarian")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, p.Upsert(ctx, "Ovarian", domain.FeatureDNARepairCapacity, 0.48, 120))
	require.NoError(t, p.Upsert(ctx, "ovarian", domain.FeaturePathwayBurdenDDR, 0.41, 120))
	require.NoError(t, p.Upsert(ctx, "ovarian", domain.FeatureDNARepairCapacity, 0.52, 140))

	snap, err := p.PopulationBaseline(ctx, "OVARIAN")
	require.NoError(t, err)
	assert.Equal(t, domain.BaselinePopulation, snap.Source())
	assert.Equal(t, 2, snap.Len())

	v, ok := snap.Value(domain.FeatureDNARepairCapacity)
	require.True(t, ok)
	assert.InDelta(t, 0.52, v, 1e-9)
}
