package eventbus_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/devsecflow/secpipe/pkg/eventbus"
	"github.com/devsecflow/secpipe/pkg/events"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoChannelEventBus_PublishSubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := eventbus.NewGoChannelEventBus(logger)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	received := make(chan *events.StageFinished, 1)

	err := bus.Handle(events.StageFinishedEvent, func(_ context.Context, event interface{}) error {
		finished, ok := event.(*events.StageFinished)
		require.True(t, ok)
		received <- finished

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	exitCode := 2
	err = bus.Publish(ctx, "run-1", events.StageFinished{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.StageFinishedEvent,
			Timestamp: time.Now(),
			RunID:     "run-1",
		},
		Stage:    "sast",
		Outcome:  models.StageSoftFailed,
		ExitCode: &exitCode,
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "sast", got.Stage)
		assert.Equal(t, models.StageSoftFailed, got.Outcome)
		require.NotNil(t, got.ExitCode)
		assert.Equal(t, 2, *got.ExitCode)
		assert.Equal(t, "run-1", got.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stage event")
	}
}

func TestGoChannelEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := eventbus.NewGoChannelEventBus(logger)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for run.started; publish must not block or error.
	err := bus.Publish(ctx, "run-1", events.RunStarted{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.RunStartedEvent, RunID: "run-1"},
		Toggles:   map[string]bool{"sast": true},
	})
	require.NoError(t, err)
}
