// Package diagram renders graph specs as ASCII art or Mermaid flowcharts,
// optionally overlaying the outcome of a finished run.
package diagram

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID         string
	Label      string
	Capability string
	Status     *StatusOverlay
}

// StatusOverlay carries run outcome for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge represents a dependency between two nodes.
type Edge struct {
	From string
	To   string
}
