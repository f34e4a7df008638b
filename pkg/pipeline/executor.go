package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/eventbus"
	"github.com/devsecflow/secpipe/pkg/events"
	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/otelhelper"
	"github.com/devsecflow/secpipe/pkg/persistence"
)

// Executor drives a configured stage sequence through one run. Stages run
// in declaration order; a hard failure halts execution of the remaining
// stages but never the registered cleanups.
type Executor struct {
	descriptors []StageDescriptor
	toggles     map[string]bool
	bus         eventbus.EventPublisher
	runs        persistence.RunStore
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewExecutor(logger *slog.Logger, bus eventbus.EventPublisher, runs persistence.RunStore) *Executor {
	return &Executor{
		bus:    bus,
		runs:   runs,
		logger: log.WithModule(logger, "pipeline"),
		tracer: otel.Tracer("github.com/devsecflow/secpipe/pkg/pipeline"),
	}
}

// Configure validates and installs the stage sequence and the resolved
// toggle set for subsequent runs.
func (e *Executor) Configure(descriptors []StageDescriptor, toggles map[string]bool) error {
	seen := make(map[string]bool, len(descriptors))

	for _, desc := range descriptors {
		if desc.Name == "" {
			return fmt.Errorf("stage with empty name")
		}

		if seen[desc.Name] {
			return fmt.Errorf("duplicate stage %q", desc.Name)
		}

		seen[desc.Name] = true

		if desc.Action == nil {
			return fmt.Errorf("stage %q has no action", desc.Name)
		}

		if desc.Toggle != "" {
			if _, ok := toggles[desc.Toggle]; !ok {
				return fmt.Errorf("stage %q references unknown toggle %q", desc.Name, desc.Toggle)
			}
		}
	}

	e.descriptors = descriptors
	e.toggles = toggles

	return nil
}

func (e *Executor) enabled(desc StageDescriptor) bool {
	if desc.Toggle == "" {
		return true
	}

	return e.toggles[desc.Toggle]
}

// Run executes the configured stages and returns the finalized run record.
// The returned error is non-nil only for executor-level problems; stage
// failures are reported through the run outcome.
func (e *Executor) Run(ctx context.Context, store *artifact.Store) (*models.PipelineRun, error) {
	if e.descriptors == nil {
		return nil, fmt.Errorf("executor not configured")
	}

	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		Toggles:   e.toggles,
		StartedAt: time.Now().UTC(),
	}

	rc := &RunContext{
		Run:   run,
		Store: store,
	}

	runCtx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.run",
		attribute.String(otelhelper.RunIDKey, run.ID))

	e.logger.InfoContext(runCtx, "Pipeline run started", "run_id", run.ID)
	e.publish(runCtx, run.ID, events.RunStarted{
		BaseEvent: e.baseEvent(events.RunStartedEvent, run.ID),
		Toggles:   e.toggles,
	})

	// Cleanups and archival must still run when the run is aborted, so the
	// finalizer gets a context that survives cancellation.
	defer e.finalize(context.WithoutCancel(ctx), run, rc, span)

	halted := false

	for _, desc := range e.descriptors {
		switch {
		case !e.enabled(desc):
			e.logger.InfoContext(runCtx, "Stage disabled, skipping", "stage", desc.Name)
			run.Append(models.SkippedResult(desc.Name))
			e.publish(runCtx, run.ID, events.StageSkipped{
				BaseEvent: e.baseEvent(events.StageSkippedEvent, run.ID),
				Stage:     desc.Name,
			})
		case halted:
			e.logger.WarnContext(runCtx, "Stage not run, pipeline halted", "stage", desc.Name)
			result := models.SkippedResult(desc.Name)
			result.Enabled = true
			run.Append(result)
			e.publish(runCtx, run.ID, events.StageSkipped{
				BaseEvent: e.baseEvent(events.StageSkippedEvent, run.ID),
				Stage:     desc.Name,
			})
		default:
			result := e.runStage(runCtx, desc, rc)
			run.Append(result)

			if result.Outcome == models.StageHardFailed {
				halted = true
			}
		}
	}

	return run, nil
}

func (e *Executor) runStage(ctx context.Context, desc StageDescriptor, rc *RunContext) models.StageResult {
	stageCtx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.stage."+desc.Name,
		attribute.String(otelhelper.RunIDKey, rc.Run.ID),
		attribute.String(otelhelper.StageNameKey, desc.Name))
	defer span.End()

	e.logger.InfoContext(stageCtx, "Stage started", "stage", desc.Name)
	e.publish(stageCtx, rc.Run.ID, events.StageStarted{
		BaseEvent: e.baseEvent(events.StageStartedEvent, rc.Run.ID),
		Stage:     desc.Name,
	})

	result := models.StageResult{
		Name:      desc.Name,
		Enabled:   true,
		StartedAt: time.Now().UTC(),
	}

	out, err := desc.Action(stageCtx, rc)

	result.FinishedAt = time.Now().UTC()
	result.ExitCode = exitCodeOf(out)
	result.Artifacts = artifactsOf(out)

	if desc.Cleanup != nil {
		rc.Defer(desc.Name, desc.Cleanup)
	}

	switch {
	case err == nil:
		result.Outcome = models.StageOK
		e.logger.InfoContext(stageCtx, "Stage passed", "stage", desc.Name)
	case desc.Fatal || IsFatal(err):
		result.Outcome = models.StageHardFailed
		result.Error = err.Error()
		otelhelper.SetError(span, err, attribute.String(otelhelper.StageNameKey, desc.Name))
		e.logger.ErrorContext(stageCtx, "Stage failed, halting pipeline",
			"stage", desc.Name, "error", err)
	default:
		result.Outcome = models.StageSoftFailed
		result.Error = err.Error()
		span.RecordError(err)
		e.logger.WarnContext(stageCtx, "Stage failed, continuing",
			"stage", desc.Name, "error", err)
	}

	span.SetAttributes(attribute.String(otelhelper.StageOutcomeKey, string(result.Outcome)))

	e.publish(stageCtx, rc.Run.ID, events.StageFinished{
		BaseEvent:  e.baseEvent(events.StageFinishedEvent, rc.Run.ID),
		Stage:      desc.Name,
		Outcome:    result.Outcome,
		ExitCode:   result.ExitCode,
		DurationMs: durationMs(result.StartedAt, result.FinishedAt),
	})

	return result
}

// finalize runs registered cleanups in reverse order, settles the run
// outcome, archives the run, and emits the terminal event. It runs on
// every exit path of Run, including panics inside stage actions.
func (e *Executor) finalize(ctx context.Context, run *models.PipelineRun, rc *RunContext, span trace.Span) {
	for i := len(rc.cleanups) - 1; i >= 0; i-- {
		entry := rc.cleanups[i]

		if err := entry.fn(ctx); err != nil {
			e.logger.ErrorContext(ctx, "Cleanup failed", "resource", entry.name, "error", err)
		} else {
			e.logger.InfoContext(ctx, "Cleanup done", "resource", entry.name)
		}
	}

	rc.cleanups = nil

	run.FinishedAt = time.Now().UTC()
	run.Version = rc.Version
	run.Link = rc.Link

	if run.HardFailed() {
		run.Outcome = models.RunFailure
		span.SetStatus(codes.Error, "pipeline hard failed")
	} else {
		run.Outcome = models.RunSuccess
	}

	if run.Version != nil {
		span.SetAttributes(
			attribute.Int(otelhelper.VersionKey, run.Version.Version),
			attribute.String(otelhelper.StatusKey, string(run.Version.Status)),
		)
	}

	if e.runs != nil {
		if err := e.runs.SaveRun(ctx, run); err != nil {
			e.logger.ErrorContext(ctx, "Failed to archive run", "run_id", run.ID, "error", err)
		}
	}

	finished := events.RunFinished{
		BaseEvent: e.baseEvent(events.RunFinishedEvent, run.ID),
		Outcome:   run.Outcome,
		Duration:  run.Duration(),
	}

	if run.Version != nil {
		finished.Version = run.Version.Version
		finished.Status = run.Version.Status
	}

	e.publish(ctx, run.ID, finished)
	e.logger.InfoContext(ctx, "Pipeline run finished",
		"run_id", run.ID, "outcome", run.Outcome, "duration", run.Duration())
	span.End()
}

func (e *Executor) baseEvent(eventType events.EventType, runID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

func (e *Executor) publish(ctx context.Context, runID string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, runID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
