package weaveflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/nodes"
)

// probeNode is a test node whose behavior is driven by its spec config:
// "ok" succeeds with configured outputs and edge tags, "fail" emits
// NodeFailed, "panic" panics, and "gate" pauses until a reply variable
// appears under its id.
type probeNode struct {
	id      string
	cfg     map[string]any
	tracker *[]string
}

func (p *probeNode) ID() string   { return p.id }
func (p *probeNode) Type() string { return "probe" }

func (p *probeNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	*p.tracker = append(*p.tracker, p.id)

	behavior, _ := p.cfg["behavior"].(string)
	switch behavior {
	case "fail":
		return weaveflow.StreamOf(event.NodeFailed{NodeID: p.id, Error: "probe failure"})
	case "panic":
		panic("probe panic")
	case "gate":
		if seg, ok := ctx.State().Pool().Get(p.id, "reply"); ok {
			return weaveflow.StreamOf(event.NodeSucceeded{
				NodeID:  p.id,
				Outputs: map[string]any{"reply": seg.Value},
			})
		}
		return weaveflow.StreamOf(event.PauseRequested{NodeID: p.id, Reason: "awaiting reply"})
	}

	outputs, _ := p.cfg["outputs"].(map[string]any)
	var tags []string
	if raw, ok := p.cfg["tags"].([]any); ok {
		for _, tag := range raw {
			tags = append(tags, tag.(string))
		}
	}
	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID:   p.id,
		Outputs:  outputs,
		EdgeTags: tags,
	})
}

// probeFactory builds a nodes.Factory with the probe type registered,
// recording execution order into tracker.
func probeFactory(tracker *[]string) *nodes.Factory {
	f := nodes.NewFactory(nodes.Deps{})
	f.Register("probe", func(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *nodes.Factory) (weaveflow.Node, error) {
		return &probeNode{id: spec.ID, cfg: spec.Config, tracker: tracker}, nil
	})
	return f
}

func probe(id string) weaveflow.NodeSpec {
	return weaveflow.NodeSpec{ID: id, Type: "probe"}
}

func probeWith(id string, cfg map[string]any) weaveflow.NodeSpec {
	return weaveflow.NodeSpec{ID: id, Type: "probe", Config: cfg}
}

func mustCompile(t *testing.T, def weaveflow.Definition) *weaveflow.Graph {
	t.Helper()
	g, err := weaveflow.Compile(def)
	require.NoError(t, err)
	return g
}

// collect drains a run's event channel with a watchdog so a stuck engine
// fails the test instead of hanging it.
func collect(t *testing.T, ch <-chan event.Event) []event.Event {
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

// kindsOf reduces events to their kinds.
func kindsOf(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

// succeededIDs extracts the NodeSucceeded id sequence, the engine's
// determinism fingerprint.
func succeededIDs(events []event.Event) []string {
	var out []string
	for _, ev := range events {
		if t, ok := ev.(event.NodeSucceeded); ok {
			out = append(out, t.NodeID)
		}
	}
	return out
}

// terminalOf returns the last event, which must be run-terminal.
func terminalOf(t *testing.T, events []event.Event) event.Event {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.True(t, event.IsTerminal(last), "last event %s is not terminal", last.Kind())
	return last
}

func testCtx() context.Context {
	return context.Background()
}
