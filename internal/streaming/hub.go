package streaming

import "context"

// Event types published by the runners.
const (
	EventRunStarted    = "run.started"
	EventRunFinished   = "run.finished"
	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventNodeSkipped   = "node.skipped"
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepSkipped   = "step.skipped"
	EventStepIteration = "step.iteration"
)

// RunEvent is a lifecycle event emitted during a graph or pipeline run.
type RunEvent struct {
	RunID     string `json:"run_id"`
	Node      string `json:"node,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
