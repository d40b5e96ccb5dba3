package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/picklr-io/eksstack/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	index    int      // declaration position, used to keep ordering deterministic
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resources. Edges come from every
// ir.Ref in a resource's properties and from its DependsOn hints.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(resources)),
	}

	for i, res := range resources {
		if _, dup := dag.nodes[res.Name]; dup {
			return nil, &DuplicateNodeError{Name: res.Name}
		}
		dag.nodes[res.Name] = &dagNode{addr: res.Name, index: i}
	}

	for _, res := range resources {
		node := dag.nodes[res.Name]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, &DanglingReferenceError{From: res.Name, To: dep}
			}
			node.addEdge(dep)
		}

		for _, ref := range ir.Refs(res.Properties) {
			if _, ok := dag.nodes[ref.Node]; !ok {
				return nil, &DanglingReferenceError{From: res.Name, To: ref.Node, Attr: ref.Attr}
			}
			node.addEdge(ref.Node)
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

// BuildDAGFromState constructs a dependency graph from observed resources, used
// for deletes. Dependencies on resources no longer in state are dropped.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(resources)),
	}

	for i, res := range resources {
		if _, dup := dag.nodes[res.Name]; dup {
			return nil, &DuplicateNodeError{Name: res.Name}
		}
		dag.nodes[res.Name] = &dagNode{addr: res.Name, index: i}
	}
	for _, res := range resources {
		node := dag.nodes[res.Name]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.addEdge(dep)
			}
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

func (n *dagNode) addEdge(dep string) {
	if !slices.Contains(n.edges, dep) {
		n.edges = append(n.edges, dep)
	}
}

func (d *DAG) finish() error {
	for _, addr := range d.declared() {
		node := d.nodes[addr]
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// declared returns node addresses in declaration order.
func (d *DAG) declared() []string {
	addrs := make([]string, 0, len(d.nodes))
	for addr := range d.nodes {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b string) int {
		return d.nodes[a].index - d.nodes[b].index
	})
	return addrs
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Has reports whether addr is a node of the graph.
func (d *DAG) Has(addr string) bool {
	_, ok := d.nodes[addr]
	return ok
}

// topoSort performs Kahn's algorithm. The ready queue is kept in declaration
// order so equal inputs always yield the same order.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var queue []string
	for _, addr := range d.declared() {
		inDegree[addr] = len(d.nodes[addr].edges)
		if inDegree[addr] == 0 {
			queue = append(queue, addr)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		var ready []string
		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		queue = d.insertByIndex(queue, ready)
	}

	if len(sorted) != len(d.nodes) {
		return nil, &CyclicDependencyError{Path: d.findCycle(inDegree)}
	}
	return sorted, nil
}

func (d *DAG) insertByIndex(queue, ready []string) []string {
	queue = append(queue, ready...)
	slices.SortStableFunc(queue, func(a, b string) int {
		return d.nodes[a].index - d.nodes[b].index
	})
	return queue
}

// findCycle walks the nodes Kahn's algorithm could not order and returns the
// first cycle found, in edge direction (a -> b means a depends on b).
func (d *DAG) findCycle(inDegree map[string]int) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(addr string) bool
	visit = func(addr string) bool {
		state[addr] = onStack
		stack = append(stack, addr)
		for _, dep := range d.nodes[addr].edges {
			switch state[dep] {
			case onStack:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if inDegree[dep] > 0 && visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[addr] = done
		return false
	}

	for _, addr := range d.declared() {
		if inDegree[addr] > 0 && state[addr] == unvisited && visit(addr) {
			break
		}
	}
	return cycle
}

// Dependencies returns the direct dependencies of addr.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every resource addr depends on, directly or not, in
// creation order.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(a string) {
		for _, dep := range d.Dependencies(a) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	var out []string
	for _, a := range d.order {
		if seen[a] {
			out = append(out, a)
		}
	}
	return out
}

// TransitiveDependents returns every resource that depends on addr, directly or
// not, in creation order.
func (d *DAG) TransitiveDependents(addr string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(a string) {
		for _, dep := range d.Dependents(a) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	var out []string
	for _, a := range d.order {
		if seen[a] {
			out = append(out, a)
		}
	}
	return out
}

// DOT renders the graph in Graphviz format. Edges point from a resource to its
// dependency.
func (d *DAG) DOT() string {
	var b strings.Builder
	b.WriteString("digraph eksstack {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, addr := range d.order {
		fmt.Fprintf(&b, "  %q;\n", addr)
	}
	for _, addr := range d.order {
		for _, dep := range d.nodes[addr].edges {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
