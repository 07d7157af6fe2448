package engine

import (
	"fmt"
	"strings"
)

// DependencyNode is one resource of a technical deployment together with the
// ids of the resources that must be activated before it.
type DependencyNode struct {
	Ref       ResourceRef
	DependsOn []string
}

// DAGBuilder orders resources so that every resource comes after its dependencies.
// Within one level resources keep their declared order, so the result is deterministic.
type DAGBuilder struct {
	// nodes maps resource IDs to their nodes
	nodes map[string]*DependencyNode

	// declared holds resource IDs in input order
	declared []string

	// position maps resource IDs to their declared index
	position map[string]int

	// adjacencyList maps resource IDs to their dependents
	adjacencyList map[string][]string

	// inDegree tracks the number of unmet dependencies for each node
	inDegree map[string]int

	// levels holds resource IDs per activation level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:         make(map[string]*DependencyNode),
		position:      make(map[string]int),
		adjacencyList: make(map[string][]string),
		inDegree:      make(map[string]int),
	}
}

// Build validates the dependency graph and computes its activation levels.
func (b *DAGBuilder) Build(nodes []DependencyNode) ([][]string, error) {
	if err := b.initialize(nodes); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.levels, nil
}

// Order returns the resources flattened in activation order.
func (b *DAGBuilder) Order() []ResourceRef {
	refs := make([]ResourceRef, 0, len(b.declared))
	for _, level := range b.levels {
		for _, id := range level {
			refs = append(refs, b.nodes[id].Ref)
		}
	}
	return refs
}

// ActivationOrder orders nodes so that dependencies come first.
func ActivationOrder(nodes []DependencyNode) ([]ResourceRef, error) {
	b := NewDAGBuilder()
	if _, err := b.Build(nodes); err != nil {
		return nil, err
	}
	return b.Order(), nil
}

func (b *DAGBuilder) initialize(nodes []DependencyNode) error {
	for i := range nodes {
		node := &nodes[i]
		id := node.Ref.ID
		if id == "" {
			return NewConfigurationError("resource has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := b.nodes[id]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate resource ID: %s", id), nil).
				WithCode(ErrCodeValidation)
		}

		b.nodes[id] = node
		b.position[id] = len(b.declared)
		b.declared = append(b.declared, id)
		b.inDegree[id] = 0
	}

	for _, id := range b.declared {
		node := b.nodes[id]
		for _, dep := range node.DependsOn {
			if _, exists := b.nodes[dep]; !exists {
				return NewConfigurationError(
					fmt.Sprintf("resource %s depends on unknown resource %s", id, dep),
					nil,
				).WithCode(ErrCodeValidation).WithResource(id)
			}
			// Edge from dependency to dependent.
			b.adjacencyList[dep] = append(b.adjacencyList[dep], id)
			b.inDegree[id]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.declared {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
				nil,
			).WithCode(ErrCodeValidation)
		}
	}
	return nil
}

func (b *DAGBuilder) detectCyclesUtil(nodeID string, visited, recStack map[string]bool, path []string) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels runs Kahn's algorithm, keeping declared order inside each level.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	current := make([]string, 0)
	for _, id := range b.declared {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		b.sortDeclared(next)
		current = next
	}

	if processed != len(b.declared) {
		return NewInternalError("failed to order all resources - possible cycle", nil)
	}
	return nil
}

func (b *DAGBuilder) sortDeclared(ids []string) {
	// Insertion sort: levels are small.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && b.position[ids[j]] < b.position[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// ToDOT generates a DOT format representation of the graph for visualization.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph TechnicalDeployment {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			node := b.nodes[id]
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, id, node.Ref.Kind, kindColor(node.Ref.Kind)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.declared {
		for _, dep := range b.nodes[id].DependsOn {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func kindColor(kind ResourceKind) string {
	switch kind {
	case KindOrganization, KindSpace:
		return "lightgray"
	case KindManagedService, KindUserProvidedService, KindDatabase:
		return "lightblue"
	case KindApp:
		return "lightgreen"
	case KindRoute:
		return "khaki"
	default:
		return "white"
	}
}
