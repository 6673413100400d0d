package schema

import "encoding/json"

// Status is the outcome of a single node or step invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// GraphStatus is the aggregate outcome of a graph run.
type GraphStatus string

const (
	GraphSuccess GraphStatus = "success"
	GraphPartial GraphStatus = "partial"
	GraphError   GraphStatus = "error"
)

// PipelineStatus is the aggregate outcome of a pipeline run.
type PipelineStatus string

const (
	PipelineCompleted PipelineStatus = "completed"
	PipelinePartial   PipelineStatus = "partial"
	PipelineFailed    PipelineStatus = "failed"
)

// NodeResult is the immutable record of one node invocation. Exactly one is
// created per node per run.
type NodeResult struct {
	Name       string          `json:"name"`
	Capability string          `json:"capability"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Slush      Slush           `json:"slush,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// GraphResult aggregates a full graph run.
type GraphResult struct {
	RunID           string                 `json:"run_id"`
	Name            string                 `json:"name,omitempty"`
	Status          GraphStatus            `json:"status"`
	Nodes           map[string]*NodeResult `json:"nodes"`
	ExecutionOrder  []string               `json:"execution_order"` // settle order, not canonical
	TotalDurationMs int64                  `json:"total_duration_ms"`
	Error           string                 `json:"error,omitempty"`
}

// StepResult is the immutable record of one step invocation. Parallel and
// loop steps produce several results sharing the step ID.
type StepResult struct {
	StepID     string          `json:"step_id"`
	Capability string          `json:"capability"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Slush      Slush           `json:"slush,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// PipelineResult aggregates a full pipeline run. FinalResult is always the
// last executed step's primary result, never its slush.
type PipelineResult struct {
	RunID           string          `json:"run_id"`
	Name            string          `json:"name"`
	Status          PipelineStatus  `json:"status"`
	Steps           []StepResult    `json:"steps"`
	FinalResult     json.RawMessage `json:"final_result,omitempty"`
	TotalDurationMs int64           `json:"total_duration_ms"`
	Error           string          `json:"error,omitempty"`
}
