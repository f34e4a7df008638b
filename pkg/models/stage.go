package models

import "time"

// StageOutcome classifies how a single stage ended.
type StageOutcome string

const (
	// StageOK means the stage action exited zero.
	StageOK StageOutcome = "ok"
	// StageSoftFailed means a non-fatal stage exited non-zero. The run continues.
	StageSoftFailed StageOutcome = "soft_failed"
	// StageHardFailed means a fatal stage exited non-zero. The run halts.
	StageHardFailed StageOutcome = "hard_failed"
	// StageSkipped means the stage was disabled by its toggle. No side effects.
	StageSkipped StageOutcome = "skipped"
)

// StageResult is the immutable record of one stage inside a run. ExitCode is
// nil for skipped stages.
type StageResult struct {
	Name       string        `json:"name"`
	Enabled    bool          `json:"enabled"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Artifacts  []ArtifactRef `json:"artifacts,omitempty"`
	Outcome    StageOutcome  `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// SkippedResult builds the result recorded for a toggled-off stage.
func SkippedResult(name string) StageResult {
	return StageResult{
		Name:    name,
		Enabled: false,
		Outcome: StageSkipped,
	}
}
