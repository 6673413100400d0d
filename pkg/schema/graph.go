package schema

// Slush is an opaque, capability-produced data parcel propagated to
// downstream capabilities. The engine never interprets it beyond pass-through
// and dotted-path lookup in conditions.
type Slush map[string]any

// GraphSpec is the JSON-serializable description of a dependency graph run.
type GraphSpec struct {
	Name        string         `json:"name,omitempty"`
	Nodes       []GraphNode    `json:"nodes"`
	NodeTimeout string         `json:"node_timeout,omitempty"` // per-node budget, e.g. "30s"
	StopOnError bool           `json:"stop_on_error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// GraphNode is a named unit of work in a DAG. The capability is referenced by
// name and resolved at run time; the graph does not own its lifecycle.
// Nodes are immutable once the spec is handed to the runner.
type GraphNode struct {
	Name        string         `json:"name"`
	Capability  string         `json:"capability"`
	StaticInput map[string]any `json:"static_input,omitempty"` // merged into every invocation
	DependsOn   []string       `json:"depends_on,omitempty"`
}
