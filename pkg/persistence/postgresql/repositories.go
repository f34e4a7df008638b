package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/persistence"
)

type versionRepository struct {
	db *sql.DB
}

func newVersionRepository(db *sql.DB) *versionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) All(ctx context.Context) ([]models.VersionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT version, status, created_at FROM pipeline_versions ORDER BY version ASC")
	if err != nil {
		return nil, persistence.NewStoreError("Versions", "", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.VersionRecord

	for rows.Next() {
		var record models.VersionRecord

		err = rows.Scan(&record.Version, &record.Status, &record.Timestamp)
		if err != nil {
			return nil, persistence.NewStoreError("Versions", "", err)
		}

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewStoreError("Versions", "", err)
	}

	return records, nil
}

func (r *versionRepository) Save(ctx context.Context, record models.VersionRecord) error {
	key := strconv.Itoa(record.Version)

	var maxVersion sql.NullInt64

	err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM pipeline_versions").Scan(&maxVersion)
	if err != nil {
		return persistence.NewStoreError("SaveVersion", key, err)
	}

	if maxVersion.Valid && record.Version <= int(maxVersion.Int64) {
		return persistence.NewStoreError("SaveVersion", key, persistence.ErrVersionNotMonotonic)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO pipeline_versions (version, status, created_at) VALUES ($1, $2, $3)",
		record.Version, record.Status, record.Timestamp)
	if err != nil {
		return persistence.NewStoreError("SaveVersion", key, err)
	}

	return nil
}

type runRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *runRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Save(ctx context.Context, run *models.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, outcome, started_at, finished_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload`,
		run.ID, run.Outcome, run.StartedAt, run.FinishedAt, payload)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

func (r *runRepository) All(ctx context.Context) ([]*models.PipelineRun, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT payload FROM pipeline_runs ORDER BY started_at ASC")
	if err != nil {
		return nil, persistence.NewStoreError("Runs", "", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.PipelineRun

	for rows.Next() {
		var payload []byte

		err = rows.Scan(&payload)
		if err != nil {
			return nil, persistence.NewStoreError("Runs", "", err)
		}

		var run models.PipelineRun

		err = json.Unmarshal(payload, &run)
		if err != nil {
			return nil, persistence.NewStoreError("Runs", "", fmt.Errorf("corrupt run payload: %w", err))
		}

		runs = append(runs, &run)
	}

	if err = rows.Err(); err != nil {
		return nil, persistence.NewStoreError("Runs", "", err)
	}

	return runs, nil
}

func (r *runRepository) GetByID(ctx context.Context, id string) (*models.PipelineRun, error) {
	var payload []byte

	err := r.db.QueryRowContext(ctx, "SELECT payload FROM pipeline_runs WHERE id = $1", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewStoreError("RunByID", id, err)
	}

	var run models.PipelineRun

	err = json.Unmarshal(payload, &run)
	if err != nil {
		return nil, persistence.NewStoreError("RunByID", id, fmt.Errorf("corrupt run payload: %w", err))
	}

	return &run, nil
}
