package graph

import (
	"fmt"
	"strings"

	"github.com/mvaldr/cascade/pkg/schema"
)

// GraphValidator checks a graph spec before planning: duplicate names,
// dangling dependency references, and cycles. It never returns a Go error;
// every independent problem is collected into the ValidationResult and the
// caller decides whether to abort.
type GraphValidator struct{}

// NewGraphValidator creates a GraphValidator.
func NewGraphValidator() *GraphValidator {
	return &GraphValidator{}
}

// Validate runs all checks in order: structure and duplicates, dangling
// references, then cycle detection. Pure and deterministic: repeated calls on
// an unchanged spec return identical issue sets.
func (v *GraphValidator) Validate(spec *schema.GraphSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if spec == nil {
		result.AddError("", schema.ErrCodeValidation, "graph spec is nil")
		return result
	}
	if len(spec.Nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "graph has no nodes")
		return result
	}

	// Pass 1: structural checks and duplicate names.
	nodes := make(map[string]*schema.GraphNode, len(spec.Nodes))
	order := make([]string, 0, len(spec.Nodes))
	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if node.Name == "" {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty name", i))
			continue
		}
		if node.Capability == "" {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %s has no capability", node.Name))
		}
		if _, exists := nodes[node.Name]; exists {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("duplicate node name: %s", node.Name))
			continue
		}
		nodes[node.Name] = node
		order = append(order, node.Name)
	}

	// Pass 2: dangling and self references.
	for _, name := range order {
		for _, dep := range nodes[name].DependsOn {
			if dep == name {
				result.AddError(name, schema.ErrCodeCycleDetected, fmt.Sprintf("node %s depends on itself", name))
				continue
			}
			if _, exists := nodes[dep]; !exists {
				result.AddError(name, schema.ErrCodeValidation, fmt.Sprintf("node %s depends on non-existent node: %s", name, dep))
			}
		}
	}

	// Pass 3: cycle detection via three-color DFS. A back-edge to a gray node
	// reveals a cycle; the reported path runs from the gray node through the
	// DFS stack back to itself.
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(nodes))
	stack := make([]string, 0, len(nodes))

	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		stack = append(stack, name)

		for _, dep := range nodes[name].DependsOn {
			if dep == name {
				continue // already reported as self-dependency
			}
			if _, exists := nodes[dep]; !exists {
				continue // already reported as dangling
			}
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				idx := 0
				for i, n := range stack {
					if n == dep {
						idx = i
						break
					}
				}
				cycle := append(append([]string{}, stack[idx:]...), dep)
				result.AddError(dep, schema.ErrCodeCycleDetected,
					"cycle detected: "+strings.Join(cycle, " -> "))
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, name := range order {
		if color[name] == white {
			visit(name)
		}
	}

	return result
}
