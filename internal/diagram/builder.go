package diagram

import (
	"github.com/mvaldr/cascade/internal/graph"
	"github.com/mvaldr/cascade/pkg/schema"
)

// Build converts a graph spec into a diagram model. The spec must be valid:
// structural problems (cycles, unknown dependencies) surface as errors.
func Build(spec *schema.GraphSpec) (*Model, error) {
	if err := graph.NewGraphValidator().Validate(spec).ToError(); err != nil {
		return nil, err
	}

	levels, err := graph.NewLevelPlanner().Plan(spec)
	if err != nil {
		return nil, err
	}

	model := &Model{
		Title:  spec.Name,
		Levels: levels,
	}
	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		model.Nodes = append(model.Nodes, &Node{
			ID:         node.Name,
			Label:      node.Name,
			Capability: node.Capability,
		})
		for _, dep := range node.DependsOn {
			model.Edges = append(model.Edges, Edge{From: dep, To: node.Name})
		}
	}
	return model, nil
}

// Overlay attaches run outcomes from a finished graph run to the model's
// nodes. Nodes absent from the result keep a nil status.
func Overlay(model *Model, result *schema.GraphResult) {
	if result == nil {
		return
	}
	for _, node := range model.Nodes {
		nr, ok := result.Nodes[node.ID]
		if !ok {
			continue
		}
		node.Status = &StatusOverlay{
			Status:     string(nr.Status),
			DurationMs: nr.DurationMs,
			Error:      nr.Error,
		}
	}
}
