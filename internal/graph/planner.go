package graph

import (
	"sort"

	"github.com/mvaldr/cascade/pkg/schema"
)

// LevelPlanner computes topological execution levels with Kahn's algorithm.
// It expects a spec that already passed GraphValidator; acyclicity is not
// re-checked beyond the structural guarantee that every node gets a level.
type LevelPlanner struct{}

// NewLevelPlanner creates a LevelPlanner.
func NewLevelPlanner() *LevelPlanner {
	return &LevelPlanner{}
}

// Plan returns ordered levels of node names. For every edge dep -> node, dep
// is placed in a strictly earlier level than node. Names within a level are
// sorted for deterministic output.
func (p *LevelPlanner) Plan(spec *schema.GraphSpec) ([][]string, error) {
	if spec == nil || len(spec.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	nodes := make(map[string]*schema.GraphNode, len(spec.Nodes))
	for i := range spec.Nodes {
		nodes[spec.Nodes[i].Name] = &spec.Nodes[i]
	}

	// In-degree counts only dependencies that exist in the graph.
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for name, node := range nodes {
		deg := 0
		for _, dep := range node.DependsOn {
			if _, exists := nodes[dep]; exists {
				deg++
				dependents[dep] = append(dependents[dep], name)
			}
		}
		inDegree[name] = deg
	}

	current := make([]string, 0)
	for name, deg := range inDegree {
		if deg == 0 {
			current = append(current, name)
		}
	}
	sort.Strings(current)

	levels := make([][]string, 0)
	placed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		placed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if placed != len(nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle")
	}

	return levels, nil
}
