package weaveflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/snapshot"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
)

// recordingLayer captures every event it sees and optionally errors.
type recordingLayer struct {
	seen []event.Kind
	err  error
}

func (l *recordingLayer) Name() string { return "recording" }

func (l *recordingLayer) OnEvent(_ context.Context, _ string, _ *state.RuntimeState, ev event.Event) error {
	l.seen = append(l.seen, ev.Kind())
	return l.err
}

// TestLayer_SeesEveryEvent tests that layers observe the stream in
// order, before the consumer.
func TestLayer_SeesEveryEvent(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{Nodes: []weaveflow.NodeSpec{probe("a")}})

	layer := &recordingLayer{}
	events := collect(t, weaveflow.New(g, state.New(), probeFactory(&executed),
		weaveflow.WithLayers(layer)).Run(testCtx()))

	assert.Equal(t, kindsOf(events), layer.seen)
}

// TestLayer_ErrorsAccumulate tests that layer failures never abort the
// run but surface through Err.
func TestLayer_ErrorsAccumulate(t *testing.T) {
	var executed []string
	g := mustCompile(t, weaveflow.Definition{Nodes: []weaveflow.NodeSpec{probe("a")}})

	sentinel := errors.New("layer exploded")
	eng := weaveflow.New(g, state.New(), probeFactory(&executed),
		weaveflow.WithLayers(&recordingLayer{err: sentinel}))
	events := collect(t, eng.Run(testCtx()))

	assert.Equal(t, event.KindRunSucceeded, terminalOf(t, events).Kind())
	assert.ErrorIs(t, eng.Err(), sentinel)
}

// TestFilterLayer tests kind filtering.
func TestFilterLayer(t *testing.T) {
	inner := &recordingLayer{}
	filtered := &weaveflow.FilterLayer{Inner: inner, Kinds: []event.Kind{event.KindRunSucceeded}}

	ctx := context.Background()
	st := state.New()
	require.NoError(t, filtered.OnEvent(ctx, "r", st, event.RunStarted{}))
	require.NoError(t, filtered.OnEvent(ctx, "r", st, event.RunSucceeded{}))

	assert.Equal(t, []event.Kind{event.KindRunSucceeded}, inner.seen)
}

// TestPauseLayer_IgnoresOtherEvents tests the RunPaused precondition.
func TestPauseLayer_IgnoresOtherEvents(t *testing.T) {
	store := snapshot.NewMemoryStore()
	defer store.Close()
	layer := weaveflow.NewPauseLayer(store)

	st := state.New()
	require.NoError(t, layer.OnEvent(context.Background(), "run-1", st, event.RunSucceeded{}))
	assert.Zero(t, store.Len())
}

// TestPauseLayer_SavesSnapshot tests persistence on RunPaused.
func TestPauseLayer_SavesSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	defer store.Close()
	layer := weaveflow.NewPauseLayer(store)
	layer.Owner = "alice"

	st := state.New()
	require.NoError(t, st.Pool().Add("n", "v", 1))
	require.NoError(t, layer.OnEvent(context.Background(), "run-1", st, event.RunPaused{Reason: "test"}))

	rec, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)

	restored, err := state.FromSnapshot(rec.Data)
	require.NoError(t, err)
	seg, ok := restored.Pool().Get("n", "v")
	require.True(t, ok)
	assert.Equal(t, float64(1), seg.Value)
}

// TestPauseLayer_EmptyRunID tests the programming-invariant panic.
func TestPauseLayer_EmptyRunID(t *testing.T) {
	layer := weaveflow.NewPauseLayer(snapshot.NewMemoryStore())
	assert.Panics(t, func() {
		_ = layer.OnEvent(context.Background(), "", state.New(), event.RunPaused{})
	})
}
