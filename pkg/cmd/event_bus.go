package cmd

import (
	"log/slog"

	"github.com/devsecflow/secpipe/pkg/eventbus"
)

// NewEventBus builds the in-process event bus used by one pipeline run.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	return eventbus.NewGoChannelEventBus(logger)
}
