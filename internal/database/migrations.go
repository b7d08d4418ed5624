package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// DefaultMigrationsPath is where the schema migrations live relative to the repository root.
const DefaultMigrationsPath = "migrations"

// SchemaVersion is the state of the migrations table.
type SchemaVersion struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	// Empty is set when no migration has ever been applied.
	Empty bool `json:"empty"`
}

// MigrationRunner applies the engine schema (population baselines, prediction audit log).
type MigrationRunner struct {
	m      *migrate.Migrate
	source string
	logger *logrus.Logger
}

// NewMigrationRunner opens the migration source directory against databaseURL.
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	if migrationsPath == "" {
		migrationsPath = DefaultMigrationsPath
	}
	abs, err := filepath.Abs(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("resolving migrations path: %w", err)
	}

	source := "file://" + filepath.ToSlash(abs)
	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	m.Log = migrateLogger{logger}

	return &MigrationRunner{m: m, source: source, logger: logger}, nil
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (r *MigrationRunner) Up(ctx context.Context) error {
	return r.run(ctx, "up", r.m.Up)
}

// Steps applies n migrations forward, or |n| backward when n is negative.
func (r *MigrationRunner) Steps(ctx context.Context, n int) error {
	direction := "forward"
	if n < 0 {
		direction = "backward"
	}
	return r.run(ctx, direction, func() error { return r.m.Steps(n) })
}

// Down rolls back the most recent migration.
func (r *MigrationRunner) Down(ctx context.Context) error {
	return r.Steps(ctx, -1)
}

// run executes op and asks migrate to stop after the current step if ctx ends first.
func (r *MigrationRunner) run(ctx context.Context, direction string, op func() error) error {
	before, _ := r.Version()

	done := make(chan error, 1)
	go func() { done <- op() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		r.m.GracefulStop <- true
		<-done
		select {
		case <-r.m.GracefulStop:
		default:
		}
		return fmt.Errorf("migrations %s interrupted: %w", direction, ctx.Err())
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.WithField("direction", direction).Debug("Schema already at target version")
		return nil
	}
	if err != nil {
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}

	after, verr := r.Version()
	if verr != nil {
		r.logger.WithError(verr).Warn("Could not read schema version")
		return nil
	}
	r.logger.WithFields(logrus.Fields{
		"direction": direction,
		"from":      before.Version,
		"to":        after.Version,
		"dirty":     after.Dirty,
	}).Info("Schema migrated")
	return nil
}

// Version reports the applied schema version.
func (r *MigrationRunner) Version() (SchemaVersion, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{Empty: true}, nil
	}
	if err != nil {
		return SchemaVersion{}, err
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}

// Close releases the source and database handles held by migrate.
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

// migrateLogger routes migrate's own progress output through logrus at debug level.
type migrateLogger struct {
	logger *logrus.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.WithField("component", "migrate").Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return l.logger.IsLevelEnabled(logrus.DebugLevel)
}
