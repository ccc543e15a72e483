package nodes_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/nodes"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// stubModel is a scripted ModelInvoker.
type stubModel struct {
	deltas []nodes.ModelDelta
	result nodes.ModelResult
	err    error
}

func (s *stubModel) Invoke(_ context.Context, _ nodes.ModelRequest, fn func(nodes.ModelDelta) bool) (nodes.ModelResult, error) {
	for _, d := range s.deltas {
		if !fn(d) {
			break
		}
	}
	return s.result, s.err
}

// stubTools is a scripted ToolInvoker recording the last request.
type stubTools struct {
	result nodes.ToolResult
	err    error
	last   nodes.ToolRequest
}

func (s *stubTools) Invoke(_ context.Context, req nodes.ToolRequest) (nodes.ToolResult, error) {
	s.last = req
	return s.result, s.err
}

// flakyNode fails whenever the value at its configured selector equals
// the configured trigger; otherwise it succeeds with a derived result.
// Used to drive the iteration error policies deterministically.
type flakyNode struct {
	id      string
	source  string
	failIf  string
	tracker *[]string
}

func (n *flakyNode) ID() string   { return n.id }
func (n *flakyNode) Type() string { return "flaky" }

func (n *flakyNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	value, _ := vars.ResolvePath(ctx.State().Pool(), n.source)
	text := fmt.Sprintf("%v", value)
	if n.tracker != nil {
		*n.tracker = append(*n.tracker, text)
	}
	if n.failIf != "" && text == n.failIf {
		return weaveflow.StreamOf(event.NodeFailed{NodeID: n.id, Error: "flaky: " + text})
	}
	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID:  n.id,
		Outputs: map[string]any{"result": "done:" + text},
	})
}

// testFactory builds a factory with the flaky test type registered.
func testFactory(deps nodes.Deps, tracker *[]string) *nodes.Factory {
	f := nodes.NewFactory(deps)
	f.Register("flaky", func(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *nodes.Factory) (weaveflow.Node, error) {
		n := &flakyNode{id: spec.ID, tracker: tracker}
		n.source, _ = spec.Config["source"].(string)
		n.failIf, _ = spec.Config["fail_if"].(string)
		return n, nil
	})
	return f
}

// runGraph compiles and runs a definition, returning the events and the
// final state.
func runGraph(t *testing.T, def weaveflow.Definition, f *nodes.Factory, st *state.RuntimeState) ([]event.Event, *state.RuntimeState) {
	t.Helper()
	g, err := weaveflow.Compile(def)
	require.NoError(t, err)
	if st == nil {
		st = state.New()
	}
	eng := weaveflow.New(g, st, f)
	return drain(t, eng.Run(context.Background())), st
}

// drain collects a run's events with a watchdog.
func drain(t *testing.T, ch <-chan event.Event) []event.Event {
	t.Helper()
	var events []event.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event channel did not close; got %d events", len(events))
		}
	}
}

// lastEvent returns the terminal run event.
func lastEvent(t *testing.T, events []event.Event) event.Event {
	t.Helper()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

// chunksFor extracts the text chunks produced by one node.
func chunksFor(events []event.Event, nodeID string) []string {
	var out []string
	for _, ev := range events {
		if c, ok := ev.(event.TextChunk); ok && c.Selector.NodeID == nodeID {
			out = append(out, c.Chunk)
		}
	}
	return out
}

// textChunksFor extracts the full text-chunk events of one node.
func textChunksFor(events []event.Event, nodeID string) []event.TextChunk {
	var out []event.TextChunk
	for _, ev := range events {
		if c, ok := ev.(event.TextChunk); ok && c.Selector.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}
