// Package postgresql provides PostgreSQL persistence for version records and
// pipeline runs. Useful when several build agents share one report history.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // postgres driver
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, pings, and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Versions returns the full stored version history, oldest first.
func (p *Persistence) Versions(ctx context.Context) ([]models.VersionRecord, error) {
	return newVersionRepository(p.db).All(ctx)
}

// SaveVersion stores a new version record, enforcing monotonic increase.
func (p *Persistence) SaveVersion(ctx context.Context, record models.VersionRecord) error {
	return newVersionRepository(p.db).Save(ctx, record)
}

// SaveRun archives a finalized run.
func (p *Persistence) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	return newRunRepository(p.db).Save(ctx, run)
}

// Runs returns all archived runs ordered by start time.
func (p *Persistence) Runs(ctx context.Context) ([]*models.PipelineRun, error) {
	return newRunRepository(p.db).All(ctx)
}

// RunByID returns one archived run.
func (p *Persistence) RunByID(ctx context.Context, id string) (*models.PipelineRun, error) {
	return newRunRepository(p.db).GetByID(ctx, id)
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS pipeline_versions (
				version INTEGER PRIMARY KEY,
				status TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS pipeline_runs (
				id TEXT PRIMARY KEY,
				outcome TEXT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
				payload JSONB NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
		`,
	}
}
