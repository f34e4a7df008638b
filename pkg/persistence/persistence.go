// Package persistence provides the storage abstraction for version records
// and finalized pipeline runs.
package persistence

import (
	"context"

	"github.com/devsecflow/secpipe/pkg/models"
)

// VersionStore persists the monotonically increasing report version. The
// correlator reads prior versions from here and writes the new record back.
type VersionStore interface {
	Versions(ctx context.Context) ([]models.VersionRecord, error)
	SaveVersion(ctx context.Context, record models.VersionRecord) error
}

// RunStore archives finalized pipeline runs for later inspection.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	Runs(ctx context.Context) ([]*models.PipelineRun, error)
	RunByID(ctx context.Context, id string) (*models.PipelineRun, error)
}

type Persistence interface {
	VersionStore
	RunStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
