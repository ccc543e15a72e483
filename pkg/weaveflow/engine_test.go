package weaveflow_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/command"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/nodes"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/snapshot"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
)

// TestEngine_LinearRun tests the full event sequence of a simple chain.
func TestEngine_LinearRun(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probeWith("a", map[string]any{"outputs": map[string]any{"x": 1}}),
			probe("b"),
			probe("c"),
		},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "b"}, {From: "b", To: "c"}},
	})

	st := state.New()
	eng := weaveflow.New(g, st, probeFactory(&executed))
	events := collect(t, eng.Run(testCtx()))

	assert.Equal(t, []event.Kind{
		event.KindRunStarted,
		event.KindNodeStarted, event.KindNodeSucceeded,
		event.KindNodeStarted, event.KindNodeSucceeded,
		event.KindNodeStarted, event.KindNodeSucceeded,
		event.KindRunSucceeded,
	}, kindsOf(events))

	started, ok := events[0].(event.RunStarted)
	require.True(t, ok)
	assert.Equal(t, event.ReasonInitial, started.Reason)

	assert.Equal(t, []string{"a", "b", "c"}, executed)
	assert.Equal(t, 3, st.Steps())
	assert.NoError(t, eng.Err())

	// Node outputs were bound into the pool under the producer id.
	seg, ok := st.Pool().Get("a", "x")
	require.True(t, ok)
	assert.Equal(t, float64(1), seg.Value)
}

// TestEngine_DiamondJoin tests fan-out order and join semantics: the
// join target runs once, after every inbound edge is satisfied.
func TestEngine_DiamondJoin(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{probe("a"), probe("b"), probe("c"), probe("d")},
		Edges: []weaveflow.EdgeSpec{
			{From: "a", To: "b"}, {From: "a", To: "c"},
			{From: "b", To: "d"}, {From: "c", To: "d"},
		},
	})

	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed)).Run(testCtx()))

	// FIFO dispatch in edge declaration order.
	assert.Equal(t, []string{"a", "b", "c", "d"}, executed)
	assert.Equal(t, []string{"a", "b", "c", "d"}, succeededIDs(events))
}

// TestEngine_EdgeTags tests tag-driven edge activation: only the edge
// named by the completing node activates, the other path stays dead.
func TestEngine_EdgeTags(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probeWith("router", map[string]any{"tags": []any{"left"}}),
			probe("left"),
			probe("right"),
		},
		Edges: []weaveflow.EdgeSpec{
			{From: "router", To: "left", Tag: "left"},
			{From: "router", To: "right", Tag: "right"},
		},
	})

	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed)).Run(testCtx()))

	assert.Equal(t, []string{"router", "left"}, executed)
	assert.Equal(t, event.KindRunSucceeded, terminalOf(t, events).Kind())
}

// TestEngine_NodeFailure tests that a contained node failure aborts the
// run with the exception count.
func TestEngine_NodeFailure(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probe("a"),
			probeWith("bad", map[string]any{"behavior": "fail"}),
			probe("never"),
		},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "bad"}, {From: "bad", To: "never"}},
	})

	st := state.New()
	events := collect(t, weaveflow.New(g, st, probeFactory(&executed)).Run(testCtx()))

	failed, ok := terminalOf(t, events).(event.RunFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "probe failure")
	assert.Equal(t, 1, failed.ExceptionCount)
	assert.NotContains(t, executed, "never")
	assert.Equal(t, 1, st.Exceptions())
}

// TestEngine_PanicRecovery tests that a panicking node surfaces as
// NodeFailed instead of crashing the run.
func TestEngine_PanicRecovery(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{probeWith("boom", map[string]any{"behavior": "panic"})},
	})

	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed)).Run(testCtx()))

	var nodeFailed event.NodeFailed
	found := false
	for _, ev := range events {
		if t, ok := ev.(event.NodeFailed); ok {
			nodeFailed = t
			found = true
		}
	}
	require.True(t, found)
	assert.Contains(t, nodeFailed.Error, "panicked")
	assert.Equal(t, event.KindRunFailed, terminalOf(t, events).Kind())
}

// TestEngine_ConsumedTwice tests the single-use contract.
func TestEngine_ConsumedTwice(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{Nodes: []weaveflow.NodeSpec{probe("a")}})
	eng := weaveflow.New(g, state.New(), probeFactory(&executed))

	collect(t, eng.Run(testCtx()))
	events := collect(t, eng.Run(testCtx()))

	failed, ok := terminalOf(t, events).(event.RunFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "already run")
	assert.ErrorIs(t, eng.Err(), weaveflow.ErrEngineConsumed)
}

// TestEngine_MaxSteps tests the runaway guard.
func TestEngine_MaxSteps(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{probe("a"), probe("b"), probe("c")},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "b"}, {From: "b", To: "c"}},
	})

	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed),
		weaveflow.WithMaxSteps(2)).Run(testCtx()))

	failed, ok := terminalOf(t, events).(event.RunFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "maximum steps")
	assert.Len(t, executed, 2)
}

// TestEngine_PauseCommand tests cooperative pause at the pre-dispatch
// safe point, then resumption on the same state.
func TestEngine_PauseCommand(t *testing.T) {
	var executed []string
	def := weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{probe("a"), probe("b")},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "b"}},
	}
	g := mustCompile(t, def)

	cmds := command.NewInMemory()
	require.NoError(t, cmds.Send(testCtx(), command.NewPause()))

	st := state.New()
	events := collect(t, weaveflow.New(g, st, probeFactory(&executed),
		weaveflow.WithCommands(cmds)).Run(testCtx()))

	paused, ok := terminalOf(t, events).(event.RunPaused)
	require.True(t, ok)
	assert.Equal(t, "command", paused.Reason)
	assert.Empty(t, executed, "pause lands before the first dispatch")
	assert.True(t, st.Paused())

	// A fresh engine over the same state continues to completion.
	resumed := collect(t, weaveflow.New(g, st, probeFactory(&executed),
		weaveflow.WithCommands(cmds)).Run(testCtx()))

	started, ok := resumed[0].(event.RunStarted)
	require.True(t, ok)
	assert.Equal(t, event.ReasonResumption, started.Reason)
	assert.Equal(t, []string{"a", "b"}, executed)
	assert.Equal(t, event.KindRunSucceeded, terminalOf(t, resumed).Kind())
}

// TestEngine_StopCommandIsPause tests that stop is honored as a pause,
// never a destructive abort.
func TestEngine_StopCommandIsPause(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{Nodes: []weaveflow.NodeSpec{probe("a")}})

	cmds := command.NewInMemory()
	require.NoError(t, cmds.Send(testCtx(), command.NewStop()))

	st := state.New()
	events := collect(t, weaveflow.New(g, st, probeFactory(&executed),
		weaveflow.WithCommands(cmds)).Run(testCtx()))

	assert.Equal(t, event.KindRunPaused, terminalOf(t, events).Kind())
	assert.True(t, st.Paused())
}

// TestEngine_PauseResume_SequenceEquivalence tests that the
// NodeSucceeded sequence of a paused-then-resumed run equals that of an
// uninterrupted run of the same graph.
func TestEngine_PauseResume_SequenceEquivalence(t *testing.T) {
	def := weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probeWith("a", map[string]any{"outputs": map[string]any{"v": "a"}}),
			probeWith("gate", map[string]any{"behavior": "gate"}),
			probe("b"),
			probe("c"),
		},
		Edges: []weaveflow.EdgeSpec{
			{From: "a", To: "gate"}, {From: "gate", To: "b"}, {From: "b", To: "c"},
		},
	}
	g := mustCompile(t, def)

	// Baseline: uninterrupted run with the reply pre-bound.
	var baseExec []string
	baseSt := state.New()
	require.NoError(t, baseSt.Pool().Add("gate", "reply", "yes"))
	baseline := collect(t, weaveflow.New(g, baseSt, probeFactory(&baseExec)).Run(testCtx()))
	require.Equal(t, event.KindRunSucceeded, terminalOf(t, baseline).Kind())

	// Interrupted run: the gate pauses, the caller binds the reply and
	// resumes on the restored state.
	var execFirst []string
	st := state.New()
	first := collect(t, weaveflow.New(g, st, probeFactory(&execFirst)).Run(testCtx()))

	paused, ok := terminalOf(t, first).(event.RunPaused)
	require.True(t, ok)
	assert.Equal(t, "awaiting reply", paused.Reason)

	require.NoError(t, st.Pool().Add("gate", "reply", "yes"))
	var execSecond []string
	second := collect(t, weaveflow.New(g, st, probeFactory(&execSecond)).Run(testCtx()))
	require.Equal(t, event.KindRunSucceeded, terminalOf(t, second).Kind())

	combined := append(succeededIDs(first), succeededIDs(second)...)
	assert.Equal(t, succeededIDs(baseline), combined)
}

// TestEngine_PauseResume_ThroughSnapshot tests the full persistence
// loop: pause layer saves the snapshot, Resume reconstructs the run.
func TestEngine_PauseResume_ThroughSnapshot(t *testing.T) {
	def := weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probeWith("a", map[string]any{"outputs": map[string]any{"v": float64(7)}}),
			probeWith("gate", map[string]any{"behavior": "gate"}),
			probe("b"),
		},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "gate"}, {From: "gate", To: "b"}},
	}
	g := mustCompile(t, def)

	store := snapshot.NewMemoryStore()
	defer store.Close()

	var execFirst []string
	eng := weaveflow.New(g, state.New(), probeFactory(&execFirst),
		weaveflow.WithRunID("run-42"),
		weaveflow.WithLayers(weaveflow.NewPauseLayer(store)),
	)
	first := collect(t, eng.Run(testCtx()))
	require.Equal(t, event.KindRunPaused, terminalOf(t, first).Kind())
	require.NoError(t, eng.Err())
	assert.Equal(t, 1, store.Len())

	// Restore, bind the awaited reply, continue.
	var execSecond []string
	resumed, err := weaveflow.Resume(g, probeFactory(&execSecond), store, "run-42")
	require.NoError(t, err)
	assert.Equal(t, "run-42", resumed.RunID())

	require.NoError(t, resumed.State().Pool().Add("gate", "reply", "ok"))
	second := collect(t, resumed.Run(testCtx()))

	started, ok := second[0].(event.RunStarted)
	require.True(t, ok)
	assert.Equal(t, event.ReasonResumption, started.Reason)
	require.Equal(t, event.KindRunSucceeded, terminalOf(t, second).Kind())
	assert.Equal(t, []string{"gate", "b"}, execSecond)

	// Variables bound before the pause survived the round trip.
	seg, ok := resumed.State().Pool().Get("a", "v")
	require.True(t, ok)
	assert.Equal(t, float64(7), seg.Value)
}

// TestEngine_PausedOutputs tests that RunPaused carries only the outputs
// accumulated strictly before the pausing node.
func TestEngine_PausedOutputs(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{
			probe("a"),
			probeWith("gate", map[string]any{"behavior": "gate"}),
		},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "gate"}},
	})

	st := state.New()
	st.SetOutput("before", "yes")
	events := collect(t, weaveflow.New(g, st, probeFactory(&executed)).Run(testCtx()))

	paused, ok := terminalOf(t, events).(event.RunPaused)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"before": "yes"}, paused.Outputs)
}

// runIDCountHandler tallies, per log record, how often the run_id
// attribute appears, counting both With-bound and per-call attrs.
type runIDCountHandler struct {
	bound  int
	counts *[]int
}

func (h *runIDCountHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *runIDCountHandler) Handle(_ context.Context, r slog.Record) error {
	n := h.bound
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "run_id" {
			n++
		}
		return true
	})
	*h.counts = append(*h.counts, n)
	return nil
}

func (h *runIDCountHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	for _, a := range attrs {
		if a.Key == "run_id" {
			nh.bound++
		}
	}
	return &nh
}

func (h *runIDCountHandler) WithGroup(string) slog.Handler { return h }

// TestEngine_RunLogsSingleRunID tests that every engine log record
// carries run_id exactly once, through logger enrichment rather than
// repeated per-call attributes.
func TestEngine_RunLogsSingleRunID(t *testing.T) {
	var executed []string
	var counts []int
	logger := slog.New(&runIDCountHandler{counts: &counts})

	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{probe("a"), probe("b")},
		Edges: []weaveflow.EdgeSpec{{From: "a", To: "b"}},
	})
	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed),
		weaveflow.WithLogger(logger)).Run(testCtx()))
	require.Equal(t, event.KindRunSucceeded, terminalOf(t, events).Kind())

	require.NotEmpty(t, counts)
	for i, n := range counts {
		assert.Equal(t, 1, n, "record %d", i)
	}
}

// firehoseNode streams chunks until the consumer stops pulling, and
// signals its producer goroutine's exit on a channel.
type firehoseNode struct {
	id     string
	exited chan struct{}
}

func (n firehoseNode) ID() string   { return n.id }
func (n firehoseNode) Type() string { return "firehose" }

func (n firehoseNode) Run(weaveflow.Context) *weaveflow.EventStream {
	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		defer close(n.exited)
		for {
			if !emit(event.TextChunk{
				Selector: event.Selector{NodeID: n.id, Path: "text"},
				Chunk:    "x",
			}) {
				return nil
			}
		}
	})
}

// TestEngine_CancelMidStream_ProducerExits tests that cancelling the run
// while a streaming node is mid-flight releases the node's producer
// goroutine instead of leaving it blocked on the abandoned stream.
func TestEngine_CancelMidStream_ProducerExits(t *testing.T) {
	var executed []string
	exited := make(chan struct{})

	f := probeFactory(&executed)
	f.Register("firehose", func(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *nodes.Factory) (weaveflow.Node, error) {
		return firehoseNode{id: spec.ID, exited: exited}, nil
	})

	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{{ID: "hose", Type: "firehose"}},
	})

	ctx, cancel := context.WithCancel(testCtx())
	defer cancel()
	ch := weaveflow.New(g, state.New(), f).Run(ctx)

	// Pull until the first chunk arrives, then walk away.
	for ev := range ch {
		if ev.Kind() == event.KindTextChunk {
			break
		}
	}
	cancel()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("streaming producer did not exit after cancellation")
	}

	// The engine still closes its event channel.
	collect(t, ch)
}

// TestEngine_UnknownNodeType tests factory rejection surfacing as a run
// failure.
func TestEngine_UnknownNodeType(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{
		Nodes: []weaveflow.NodeSpec{{ID: "a", Type: "nonsense"}},
	})

	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed)).Run(testCtx()))

	failed, ok := terminalOf(t, events).(event.RunFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "unknown node type")
}
