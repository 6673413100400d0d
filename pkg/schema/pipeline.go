package schema

// StepKind enumerates the kinds of steps in a pipeline.
type StepKind string

const (
	StepKindAgent       StepKind = "agent"
	StepKindParallel    StepKind = "parallel"
	StepKindConditional StepKind = "conditional"
	StepKindLoop        StepKind = "loop"
)

// ErrorPolicy controls how the pipeline reacts to a failed step.
type ErrorPolicy string

const (
	// ErrorPolicyStop halts the pipeline on the first error (default).
	ErrorPolicyStop ErrorPolicy = "stop"
	// ErrorPolicyContinue records the error and keeps running; the run
	// finishes as partial.
	ErrorPolicyContinue ErrorPolicy = "continue"
	// ErrorPolicySkip records the error but neither halts nor degrades the
	// aggregate status. Intended for best-effort side steps.
	ErrorPolicySkip ErrorPolicy = "skip"
)

// DefaultMaxIterations bounds loop steps that do not set max_iterations.
const DefaultMaxIterations = 5

// PipelineSpec is an immutable, declarative description of a linear pipeline.
type PipelineSpec struct {
	Name     string         `json:"name"`
	Steps    []PipelineStep `json:"steps"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PipelineStep is a named unit of work in a pipeline.
type PipelineStep struct {
	ID            string         `json:"id"`
	Kind          StepKind       `json:"kind"`
	Capability    string         `json:"capability,omitempty"`   // agent, conditional, loop
	Capabilities  []string       `json:"capabilities,omitempty"` // parallel
	StaticInput   map[string]any `json:"static_input,omitempty"`
	Condition     *Condition     `json:"condition,omitempty"`      // conditional gate / loop exit
	MaxIterations int            `json:"max_iterations,omitempty"` // loop bound, default 5
	OnError       ErrorPolicy    `json:"on_error,omitempty"`       // default stop
}

// Condition is evaluated against the current slush. Field is a dotted path;
// Exists checks presence/absence, Equals checks strict value equality, and
// when neither is set the presence of the resolved value is the test.
// Expr is an optional CEL expression evaluated instead of the field lookup.
type Condition struct {
	Field  string `json:"field,omitempty"`
	Equals any    `json:"equals,omitempty"`
	Exists *bool  `json:"exists,omitempty"`
	Expr   string `json:"expr,omitempty"`
}
