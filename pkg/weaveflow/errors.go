// Package weaveflow provides a workflow graph execution engine: a
// declarative node graph compiled into an immutable topology and driven
// by a scheduler that supports branching, iteration sub-graphs,
// cooperative pause/resume and typed cross-node data flow.
package weaveflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph compilation.
var (
	// ErrDuplicateNode indicates two node specs share an id.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrUnknownNode indicates an edge references a node id that does
	// not exist.
	ErrUnknownNode = errors.New("edge references unknown node")

	// ErrNoEntryNode indicates a (sub-)graph has no entry node.
	ErrNoEntryNode = errors.New("no entry node")

	// ErrMultipleEntryNodes indicates a (sub-)graph has more than one
	// node without inbound edges.
	ErrMultipleEntryNodes = errors.New("multiple entry nodes")

	// ErrCycle indicates a cycle outside a recognized iteration/loop
	// construct. Loops are bounded repeated execution of a sub-graph,
	// never raw cyclic edges.
	ErrCycle = errors.New("cycle in graph")

	// ErrScopeViolation indicates an edge crossing an iteration/loop
	// body boundary.
	ErrScopeViolation = errors.New("edge crosses scope boundary")

	// ErrUnknownScope indicates a node declares a scope owner that does
	// not exist or cannot own a sub-graph.
	ErrUnknownScope = errors.New("unknown scope owner")

	// ErrUnreachableNode indicates a node not reachable from its
	// scope's entry.
	ErrUnreachableNode = errors.New("node unreachable from entry")

	// ErrBranchTag indicates a branch node selects an edge tag that
	// none of its outgoing edges carries.
	ErrBranchTag = errors.New("branch tag matches no outgoing edge")
)

// Sentinel errors for execution.
var (
	// ErrMaxSteps indicates the run exceeded the configured step limit.
	ErrMaxSteps = errors.New("exceeded maximum steps")

	// ErrUnknownNodeType indicates the factory has no builder for a
	// spec's declared type.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrEngineConsumed indicates Run was called twice on one engine.
	// Resume constructs a fresh engine over restored state instead.
	ErrEngineConsumed = errors.New("engine already run")
)

// ValidationError reports the structural problems found while compiling
// a graph definition. It is always fatal to construction.
type ValidationError struct {
	// Errs holds one error per detected problem, each wrapping one of
	// the compilation sentinels.
	Errs []error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid graph: %v", errors.Join(e.Errs...))
}

// Unwrap supports errors.Is against the compilation sentinels.
func (e *ValidationError) Unwrap() []error {
	return e.Errs
}

// NodeError describes a contained node failure: the node id and the
// failure text carried by the NodeFailed event.
type NodeError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}
