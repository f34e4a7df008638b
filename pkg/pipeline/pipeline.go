// Package pipeline executes an ordered sequence of stages with per-stage
// enable toggles, failure classification, and guaranteed teardown of any
// resources registered during a run.
package pipeline

import (
	"context"
	"time"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/models"
)

// Action runs the work of one stage. A nil error means the stage passed.
// A non-nil error marks the stage failed; wrap it with Fatal to halt the
// pipeline. The returned output may be non-nil even on failure when the
// underlying tool ran and produced artifacts.
type Action func(ctx context.Context, rc *RunContext) (*StageOutput, error)

// CleanupFunc releases a resource registered during a run. Cleanups run in
// reverse registration order exactly once, on every exit path.
type CleanupFunc func(ctx context.Context) error

// StageOutput carries what a stage produced beyond its outcome.
type StageOutput struct {
	ExitCode  *int
	Artifacts []models.ArtifactRef
}

// StageDescriptor declares one stage of the pipeline.
//
// Toggle names the boolean switch controlling the stage; an empty Toggle
// means the stage is unconditional. Fatal marks every failure of the stage
// as pipeline-halting, regardless of how the action reports it.
type StageDescriptor struct {
	Name    string
	Toggle  string
	Fatal   bool
	Action  Action
	Cleanup CleanupFunc
}

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// RunContext is the shared state actions read and write during a run.
type RunContext struct {
	Run     *models.PipelineRun
	Store   *artifact.Store
	Version *models.VersionRecord
	Link    *models.PublishedLink

	// AppURL is the base URL of the application under test once the
	// deploy stage has provisioned it.
	AppURL string

	cleanups []cleanupEntry
}

// Defer registers a cleanup to run when the pipeline finishes, whatever
// the outcome. Cleanups run last-registered-first.
func (rc *RunContext) Defer(name string, fn CleanupFunc) {
	rc.cleanups = append(rc.cleanups, cleanupEntry{name: name, fn: fn})
}

// ResultFor returns the recorded result of an earlier stage, if any.
func (rc *RunContext) ResultFor(stage string) (models.StageResult, bool) {
	return rc.Run.ResultFor(stage)
}

func exitCodeOf(out *StageOutput) *int {
	if out == nil {
		return nil
	}

	return out.ExitCode
}

func artifactsOf(out *StageOutput) []models.ArtifactRef {
	if out == nil {
		return nil
	}

	return out.Artifacts
}

func durationMs(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}
