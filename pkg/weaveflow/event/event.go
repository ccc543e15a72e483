// Package event defines the run and node lifecycle events emitted by the
// engine. Events form a closed tagged union keyed by Kind; they are
// immutable and strictly ordered by emission. The event stream is the
// only externally observable artifact of a run besides the final
// runtime state.
package event

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// Kind tags an event variant.
type Kind string

// Event kinds.
const (
	KindRunStarted     Kind = "run_started"
	KindRunSucceeded   Kind = "run_succeeded"
	KindRunFailed      Kind = "run_failed"
	KindRunPaused      Kind = "run_paused"
	KindNodeStarted    Kind = "node_started"
	KindNodeSucceeded  Kind = "node_succeeded"
	KindNodeFailed     Kind = "node_failed"
	KindPauseRequested Kind = "pause_requested"

	KindTextChunk       Kind = "text_chunk"
	KindToolCallChunk   Kind = "tool_call_chunk"
	KindToolResultChunk Kind = "tool_result_chunk"
	KindThoughtChunk    Kind = "thought_chunk"
)

// Event is the interface satisfied by every event variant.
// The union is closed: only types in this package implement it.
type Event interface {
	Kind() Kind
	sealed()
}

// StartReason distinguishes a fresh run from a resumed one.
type StartReason string

// Start reasons.
const (
	ReasonInitial    StartReason = "initial"
	ReasonResumption StartReason = "resumption"
)

// RunStarted is always the first event of a run.
type RunStarted struct {
	Reason StartReason
}

// RunSucceeded is the terminal event of a run that completed normally.
type RunSucceeded struct {
	Outputs map[string]any
}

// RunFailed is the terminal event of a run aborted by a node failure or
// an engine-level error.
type RunFailed struct {
	Error          string
	ExceptionCount int
}

// RunPaused is the terminal event of a suspended run. Outputs carries
// the values accumulated strictly before the pausing node.
type RunPaused struct {
	Reason  string
	Outputs map[string]any
}

// NodeStarted reports that a node was dispatched.
type NodeStarted struct {
	NodeID string
}

// Usage carries resource consumption reported by a node.
type Usage struct {
	Tokens int
}

// NodeSucceeded is a node's successful terminal event. Outputs are the
// node's declared outputs; the engine binds them into the variable pool
// under the node's id. EdgeTags restricts which outgoing edges activate:
// nil activates all of them, a branch node names exactly one tag.
type NodeSucceeded struct {
	NodeID   string
	Outputs  map[string]any
	Usage    Usage
	EdgeTags []string
}

// NodeFailed is a node's failing terminal event. The failure is contained
// at the node boundary; it never propagates as a Go error out of Run.
type NodeFailed struct {
	NodeID string
	Error  string
}

// PauseRequested is the terminal event of a node that suspended without
// completing. The node has written none of its final outputs.
type PauseRequested struct {
	NodeID string
	Reason string
}

// Selector addresses the destination of a streaming chunk: the producing
// node and a field path within its outputs.
type Selector struct {
	NodeID string
	Path   string
}

// TextChunk is a plain streaming text fragment.
type TextChunk struct {
	Selector Selector
	Chunk    string
	Final    bool
}

// ToolCallChunk streams a partially formed tool invocation.
type ToolCallChunk struct {
	Selector Selector
	CallID   string
	ToolName string
	Args     string
	Final    bool
}

// ToolResultChunk streams the outcome of a tool invocation.
type ToolResultChunk struct {
	Selector  Selector
	CallID    string
	ToolName  string
	Files     []vars.FileRef
	ErrorText string
	Final     bool
}

// ThoughtChunk streams intermediate reasoning, tagged with the round
// index for multi-round flows.
type ThoughtChunk struct {
	Selector Selector
	Chunk    string
	Round    int
	Final    bool
}

// Kind implementations.

func (RunStarted) Kind() Kind      { return KindRunStarted }
func (RunSucceeded) Kind() Kind    { return KindRunSucceeded }
func (RunFailed) Kind() Kind       { return KindRunFailed }
func (RunPaused) Kind() Kind       { return KindRunPaused }
func (NodeStarted) Kind() Kind     { return KindNodeStarted }
func (NodeSucceeded) Kind() Kind   { return KindNodeSucceeded }
func (NodeFailed) Kind() Kind      { return KindNodeFailed }
func (PauseRequested) Kind() Kind  { return KindPauseRequested }
func (TextChunk) Kind() Kind       { return KindTextChunk }
func (ToolCallChunk) Kind() Kind   { return KindToolCallChunk }
func (ToolResultChunk) Kind() Kind { return KindToolResultChunk }
func (ThoughtChunk) Kind() Kind    { return KindThoughtChunk }

func (RunStarted) sealed()      {}
func (RunSucceeded) sealed()    {}
func (RunFailed) sealed()       {}
func (RunPaused) sealed()       {}
func (NodeStarted) sealed()     {}
func (NodeSucceeded) sealed()   {}
func (NodeFailed) sealed()      {}
func (PauseRequested) sealed()  {}
func (TextChunk) sealed()       {}
func (ToolCallChunk) sealed()   {}
func (ToolResultChunk) sealed() {}
func (ThoughtChunk) sealed()    {}

// IsTerminal reports whether ev ends a run's event sequence.
func IsTerminal(ev Event) bool {
	switch ev.Kind() {
	case KindRunSucceeded, KindRunFailed, KindRunPaused:
		return true
	}
	return false
}

// IsNodeTerminal reports whether ev ends a node's event sequence.
func IsNodeTerminal(ev Event) bool {
	switch ev.Kind() {
	case KindNodeSucceeded, KindNodeFailed, KindPauseRequested:
		return true
	}
	return false
}

// NodeIDOf returns the producing node id for node-scoped events. The
// boolean is false for run-level events.
func NodeIDOf(ev Event) (string, bool) {
	switch t := ev.(type) {
	case NodeStarted:
		return t.NodeID, true
	case NodeSucceeded:
		return t.NodeID, true
	case NodeFailed:
		return t.NodeID, true
	case PauseRequested:
		return t.NodeID, true
	case TextChunk:
		return t.Selector.NodeID, true
	case ToolCallChunk:
		return t.Selector.NodeID, true
	case ToolResultChunk:
		return t.Selector.NodeID, true
	case ThoughtChunk:
		return t.Selector.NodeID, true
	}
	return "", false
}

// IsChunk reports whether ev is a streaming chunk event.
func IsChunk(ev Event) bool {
	switch ev.Kind() {
	case KindTextChunk, KindToolCallChunk, KindToolResultChunk, KindThoughtChunk:
		return true
	}
	return false
}
