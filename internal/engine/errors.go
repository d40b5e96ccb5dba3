package engine

import (
	"fmt"
	"strings"
)

// DanglingReferenceError is returned when a reference or ordering hint names a
// node that is not declared.
type DanglingReferenceError struct {
	From string
	To   string
	Attr string // empty for depends-on hints
}

func (e *DanglingReferenceError) Error() string {
	if e.Attr == "" {
		return fmt.Sprintf("resource %s depends on undeclared resource %s", e.From, e.To)
	}
	return fmt.Sprintf("resource %s references %s.%s but %s is not declared", e.From, e.To, e.Attr, e.To)
}

// CyclicDependencyError names one concrete cycle, first node repeated at the end.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// DuplicateNodeError is returned when two declarations share a logical name.
type DuplicateNodeError struct {
	Name string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("resource %s is declared more than once", e.Name)
}

// UnresolvedOutputError is returned when an exported output points at a node
// that did not finish in a successful state.
type UnresolvedOutputError struct {
	Key    string
	Node   string
	Status string
}

func (e *UnresolvedOutputError) Error() string {
	return fmt.Sprintf("output %s cannot be resolved: resource %s is %s", e.Key, e.Node, e.Status)
}

// PreventDestroyError is returned by the planner when a change would destroy a
// resource with lifecycle.preventDestroy set.
type PreventDestroyError struct {
	Address string
	Action  string
}

func (e *PreventDestroyError) Error() string {
	return fmt.Sprintf("resource %s has preventDestroy set but the plan would %s it", e.Address, e.Action)
}
