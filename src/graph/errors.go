package graph

import (
	"fmt"
	"strings"
)

// GraphError is a structural problem of the definition set as a whole.
// Any GraphError aborts the run before a single build is started.
type GraphError interface {
	error
	graphError()
}

// CycleError reports a dependency cycle. Cycle lists the nodes in parent
// order, starting and ending with the same identifier.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

func (*CycleError) graphError() {}

// DanglingDependencyError reports a parent reference to an undefined node.
type DanglingDependencyError struct {
	ID     string
	Parent string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("image %s: parent %s is not defined", e.ID, e.Parent)
}

func (*DanglingDependencyError) graphError() {}
