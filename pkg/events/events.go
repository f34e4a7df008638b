// Package events defines event types for pipeline run lifecycle notifications.
package events

import (
	"time"

	"github.com/devsecflow/secpipe/pkg/models"
)

type EventType string

// Topic carries all pipeline lifecycle events.
const Topic = "secpipe.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent    EventType = "run.started"
	RunFinishedEvent   EventType = "run.finished"
	StageStartedEvent  EventType = "stage.started"
	StageFinishedEvent EventType = "stage.finished"
	StageSkippedEvent  EventType = "stage.skipped"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
}

type RunStarted struct {
	BaseEvent

	Toggles map[string]bool `json:"toggles"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	Outcome  models.RunOutcome `json:"outcome"`
	Version  int               `json:"version,omitempty"`
	Status   models.Status     `json:"status,omitempty"`
	Duration time.Duration     `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type StageStarted struct {
	BaseEvent

	Stage string `json:"stage"`
}

func (e StageStarted) GetType() EventType {
	return StageStartedEvent
}

type StageFinished struct {
	BaseEvent

	Stage      string              `json:"stage"`
	Outcome    models.StageOutcome `json:"outcome"`
	ExitCode   *int                `json:"exit_code,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

func (e StageFinished) GetType() EventType {
	return StageFinishedEvent
}

type StageSkipped struct {
	BaseEvent

	Stage string `json:"stage"`
}

func (e StageSkipped) GetType() EventType {
	return StageSkippedEvent
}
