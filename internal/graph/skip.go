package graph

import (
	"sort"

	"github.com/mvaldr/cascade/pkg/schema"
)

// SkipPropagator computes the transitive dependents of a node so they can be
// marked skipped once that node fails or is itself skipped.
type SkipPropagator struct {
	dependents map[string][]string
}

// NewSkipPropagator builds the reverse adjacency for a spec.
func NewSkipPropagator(spec *schema.GraphSpec) *SkipPropagator {
	dependents := make(map[string][]string, len(spec.Nodes))
	names := make(map[string]bool, len(spec.Nodes))
	for i := range spec.Nodes {
		names[spec.Nodes[i].Name] = true
	}
	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		for _, dep := range node.DependsOn {
			if names[dep] {
				dependents[dep] = append(dependents[dep], node.Name)
			}
		}
	}
	return &SkipPropagator{dependents: dependents}
}

// Transitive returns every node that directly or indirectly depends on name,
// including through already-skipped intermediates. Output is sorted.
func (s *SkipPropagator) Transitive(name string) []string {
	seen := make(map[string]bool)
	queue := append([]string{}, s.dependents[name]...)

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, s.dependents[next]...)
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
