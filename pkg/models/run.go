// Package models defines the core data types shared across the pipeline.
package models

import "time"

// RunOutcome is the terminal outcome of a whole pipeline run.
type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunFailure RunOutcome = "failure"
)

// PipelineRun identifies one pipeline execution. It holds the resolved
// toggle set, the ordered stage results, and the terminal outcome. It is
// created at run start and finalized at run end; the executor is its only
// writer.
type PipelineRun struct {
	ID         string          `json:"id"`
	Toggles    map[string]bool `json:"toggles"`
	Results    []StageResult   `json:"results"`
	Outcome    RunOutcome      `json:"outcome"`
	Version    *VersionRecord  `json:"version,omitempty"`
	Link       *PublishedLink  `json:"link,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Append records a finished or skipped stage. Results keep declaration order.
func (r *PipelineRun) Append(result StageResult) {
	r.Results = append(r.Results, result)
}

// ResultFor returns the recorded result for a stage name, if any.
func (r *PipelineRun) ResultFor(name string) (StageResult, bool) {
	for _, result := range r.Results {
		if result.Name == name {
			return result, true
		}
	}

	return StageResult{}, false
}

// HardFailed reports whether any stage hard-failed.
func (r *PipelineRun) HardFailed() bool {
	for _, result := range r.Results {
		if result.Outcome == StageHardFailed {
			return true
		}
	}

	return false
}

// Duration is the wall-clock time of the whole run.
func (r *PipelineRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
