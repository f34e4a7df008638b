package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/devsecflow/secpipe/pkg/eventbus"
	"github.com/devsecflow/secpipe/pkg/events"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/otelhelper"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) typesSeen() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okAction(counter *int) Action {
	return func(_ context.Context, _ *RunContext) (*StageOutput, error) {
		*counter++

		zero := 0

		return &StageOutput{ExitCode: &zero}, nil
	}
}

func failAction(counter *int, code int) Action {
	return func(_ context.Context, _ *RunContext) (*StageOutput, error) {
		*counter++

		return &StageOutput{ExitCode: &code}, errors.New("tool exited non-zero")
	}
}

func TestExecutor_Configure(t *testing.T) {
	noop := func(_ context.Context, _ *RunContext) (*StageOutput, error) { return nil, nil }

	testCases := []struct {
		name        string
		descriptors []StageDescriptor
		toggles     map[string]bool
		wantErr     string
	}{
		{
			name: "valid sequence",
			descriptors: []StageDescriptor{
				{Name: "prepare", Action: noop},
				{Name: "sast", Toggle: "sast", Action: noop},
			},
			toggles: map[string]bool{"sast": true},
		},
		{
			name:        "empty stage name",
			descriptors: []StageDescriptor{{Name: "", Action: noop}},
			wantErr:     "empty name",
		},
		{
			name: "duplicate stage name",
			descriptors: []StageDescriptor{
				{Name: "sast", Action: noop},
				{Name: "sast", Action: noop},
			},
			wantErr: "duplicate stage",
		},
		{
			name:        "missing action",
			descriptors: []StageDescriptor{{Name: "sast"}},
			wantErr:     "no action",
		},
		{
			name:        "unknown toggle",
			descriptors: []StageDescriptor{{Name: "sast", Toggle: "sast", Action: noop}},
			toggles:     map[string]bool{},
			wantErr:     "unknown toggle",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			executor := NewExecutor(testLogger(), nil, nil)
			err := executor.Configure(tc.descriptors, tc.toggles)

			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestExecutor_RunRequiresConfigure(t *testing.T) {
	executor := NewExecutor(testLogger(), nil, nil)

	_, err := executor.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestExecutor_DisabledStageHasNoSideEffects(t *testing.T) {
	var prepared, scanned int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{Name: "prepare", Action: okAction(&prepared)},
		{Name: "sast", Toggle: "sast", Action: okAction(&scanned)},
	}, map[string]bool{"sast": false})
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, prepared)
	assert.Equal(t, 0, scanned, "disabled stage action must never run")

	result, ok := run.ResultFor("sast")
	require.True(t, ok)
	assert.Equal(t, models.StageSkipped, result.Outcome)
	assert.False(t, result.Enabled)
	assert.Nil(t, result.ExitCode)
	assert.Equal(t, models.RunSuccess, run.Outcome)
}

func TestExecutor_SoftFailureContinues(t *testing.T) {
	var first, second, third int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{Name: "sast", Action: okAction(&first)},
		{Name: "dependency_scan", Action: failAction(&second, 1)},
		{Name: "unit_tests", Action: okAction(&third)},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, third, "stages after a soft failure must still run")

	result, ok := run.ResultFor("dependency_scan")
	require.True(t, ok)
	assert.Equal(t, models.StageSoftFailed, result.Outcome)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 1, *result.ExitCode)
	assert.Equal(t, models.RunSuccess, run.Outcome)
}

func TestExecutor_FatalStageHaltsPipeline(t *testing.T) {
	var built, deployed int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{Name: "image_build", Fatal: true, Action: failAction(&built, 1)},
		{Name: "deploy_dast", Action: okAction(&deployed)},
		{Name: "dast", Action: okAction(&deployed)},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.Equal(t, 0, deployed, "stages after a hard failure must not run")
	assert.Equal(t, models.RunFailure, run.Outcome)
	assert.True(t, run.HardFailed())

	result, ok := run.ResultFor("image_build")
	require.True(t, ok)
	assert.Equal(t, models.StageHardFailed, result.Outcome)

	// Halted stages are recorded as skipped even though they were enabled.
	for _, name := range []string{"deploy_dast", "dast"} {
		result, ok := run.ResultFor(name)
		require.True(t, ok)
		assert.Equal(t, models.StageSkipped, result.Outcome)
		assert.True(t, result.Enabled)
	}
}

func TestExecutor_FatalErrorFromNonFatalStage(t *testing.T) {
	var after int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "prepare",
			Action: func(_ context.Context, _ *RunContext) (*StageOutput, error) {
				return nil, Fatal(errors.New("docker binary not found"))
			},
		},
		{Name: "sast", Action: okAction(&after)},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, after)
	assert.Equal(t, models.RunFailure, run.Outcome)

	result, ok := run.ResultFor("prepare")
	require.True(t, ok)
	assert.Equal(t, models.StageHardFailed, result.Outcome)
	assert.Contains(t, result.Error, "docker binary not found")
}

func TestExecutor_ResultsKeepDeclarationOrder(t *testing.T) {
	var n int

	names := []string{"prepare", "sast", "dependency_scan", "unit_tests", "report"}
	descriptors := make([]StageDescriptor, 0, len(names))

	for _, name := range names {
		descriptors = append(descriptors, StageDescriptor{Name: name, Action: okAction(&n)})
	}

	executor := NewExecutor(testLogger(), nil, nil)
	require.NoError(t, executor.Configure(descriptors, nil))

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, run.Results, len(names))

	for i, name := range names {
		assert.Equal(t, name, run.Results[i].Name)
	}
}

func TestExecutor_CleanupsRunInReverseOrderExactlyOnce(t *testing.T) {
	var order []string
	var mu sync.Mutex

	record := func(name string) CleanupFunc {
		return func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, name)

			return nil
		}
	}

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "deploy_dast",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.Defer("network", record("network"))
				rc.Defer("container", record("container"))

				return nil, nil
			},
		},
		{Name: "dast", Action: func(_ context.Context, _ *RunContext) (*StageOutput, error) { return nil, nil }},
	}, nil)
	require.NoError(t, err)

	_, err = executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"container", "network"}, order)
}

func TestExecutor_CleanupsRunAfterHardFailure(t *testing.T) {
	var released int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "deploy_dast",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.Defer("container", func(_ context.Context) error {
					released++

					return nil
				})

				return nil, nil
			},
		},
		{Name: "dast", Fatal: true, Action: failAction(new(int), 2)},
		{Name: "report", Action: okAction(new(int))},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, released, "cleanup must run exactly once even when the run halts")
	assert.Equal(t, models.RunFailure, run.Outcome)
}

func TestExecutor_DescriptorCleanupRunsWhenStageFails(t *testing.T) {
	var released int

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name:   "deploy_dast",
			Action: failAction(new(int), 1),
			Cleanup: func(_ context.Context) error {
				released++

				return nil
			},
		},
	}, nil)
	require.NoError(t, err)

	_, err = executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, released)
}

func TestExecutor_PublishesLifecycleEvents(t *testing.T) {
	publisher := &capturePublisher{}
	executor := NewExecutor(testLogger(), publisher, nil)

	err := executor.Configure([]StageDescriptor{
		{Name: "sast", Action: okAction(new(int))},
		{Name: "dast", Toggle: "dast", Action: okAction(new(int))},
	}, map[string]bool{"dast": false})
	require.NoError(t, err)

	_, err = executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.StageStartedEvent,
		events.StageFinishedEvent,
		events.StageSkippedEvent,
		events.RunFinishedEvent,
	}, publisher.typesSeen())
}

func TestExecutor_SharedStateFlowsBetweenStages(t *testing.T) {
	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "deploy_dast",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.AppURL = "http://127.0.0.1:32780"

				return nil, nil
			},
		},
		{
			Name: "dast",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				assert.Equal(t, "http://127.0.0.1:32780", rc.AppURL)

				return nil, nil
			},
		},
	}, nil)
	require.NoError(t, err)

	_, err = executor.Run(context.Background(), nil)
	require.NoError(t, err)
}

func TestExecutor_VersionAndLinkLandOnRun(t *testing.T) {
	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "report",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.Version = &models.VersionRecord{Version: 7, Status: models.StatusPass}

				return nil, nil
			},
		},
		{
			Name: "publish",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.Link = &models.PublishedLink{URL: "https://docs.example.com/pages/1/report"}

				return nil, nil
			},
		},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Version)
	assert.Equal(t, 7, run.Version.Version)
	require.NotNil(t, run.Link)
	assert.Equal(t, "https://docs.example.com/pages/1/report", run.Link.URL)
}

func TestExecutor_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	executor := NewExecutor(testLogger(), nil, nil)
	err := executor.Configure([]StageDescriptor{
		{
			Name: "report",
			Action: func(_ context.Context, rc *RunContext) (*StageOutput, error) {
				rc.Version = &models.VersionRecord{Version: 4, Status: models.StatusPass}

				return nil, nil
			},
		},
		{Name: "notify", Action: func(_ context.Context, _ *RunContext) (*StageOutput, error) {
			return nil, errors.New("smtp unreachable")
		}},
	}, nil)
	require.NoError(t, err)

	run, err := executor.Run(context.Background(), nil)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, span := range spans {
		byName[span.Name()] = span
	}

	require.Contains(t, byName, "pipeline.run")
	require.Contains(t, byName, "pipeline.stage.report")
	require.Contains(t, byName, "pipeline.stage.notify")

	runAttrs := attributesOf(byName["pipeline.run"])
	assert.Equal(t, run.ID, runAttrs[otelhelper.RunIDKey])
	assert.Equal(t, int64(4), runAttrs[otelhelper.VersionKey])
	assert.Equal(t, "PASS", runAttrs[otelhelper.StatusKey])

	reportAttrs := attributesOf(byName["pipeline.stage.report"])
	assert.Equal(t, "report", reportAttrs[otelhelper.StageNameKey])
	assert.Equal(t, string(models.StageOK), reportAttrs[otelhelper.StageOutcomeKey])

	notifyAttrs := attributesOf(byName["pipeline.stage.notify"])
	assert.Equal(t, string(models.StageSoftFailed), notifyAttrs[otelhelper.StageOutcomeKey])
}

func attributesOf(span sdktrace.ReadOnlySpan) map[string]any {
	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	return attrs
}
