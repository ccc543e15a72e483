package weaveflow

import (
	"context"
	"fmt"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/observability"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/snapshot"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
)

// Layer observes the run's event stream as it is produced. Layers see
// every event before the consumer does and may read the runtime state;
// they must not mutate it. A layer error is recorded on the engine (see
// Engine.Err) but never interrupts the run.
type Layer interface {
	// Name identifies the layer in error reports.
	Name() string

	// OnEvent is called synchronously for each emitted event.
	OnEvent(ctx context.Context, runID string, st *state.RuntimeState, ev event.Event) error
}

// FilterLayer wraps a layer so it only sees the listed event kinds.
type FilterLayer struct {
	Inner Layer
	Kinds []event.Kind
}

// Name implements Layer.
func (f *FilterLayer) Name() string {
	return f.Inner.Name()
}

// OnEvent implements Layer.
func (f *FilterLayer) OnEvent(ctx context.Context, runID string, st *state.RuntimeState, ev event.Event) error {
	for _, k := range f.Kinds {
		if ev.Kind() == k {
			return f.Inner.OnEvent(ctx, runID, st, ev)
		}
	}
	return nil
}

// PauseLayer persists a state snapshot when a run pauses, so the run
// can be resumed later from the attached store.
type PauseLayer struct {
	Store   snapshot.Store
	Owner   string
	Metrics observability.MetricsRecorder
}

// NewPauseLayer creates a pause-persistence layer over the given store.
func NewPauseLayer(store snapshot.Store) *PauseLayer {
	return &PauseLayer{Store: store}
}

// Name implements Layer.
func (p *PauseLayer) Name() string {
	return "pause"
}

// OnEvent implements Layer. It reacts to RunPaused only.
func (p *PauseLayer) OnEvent(ctx context.Context, runID string, st *state.RuntimeState, ev event.Event) error {
	if ev.Kind() != event.KindRunPaused {
		return nil
	}
	if runID == "" {
		// A pausing run without an id cannot be resumed; this is a
		// wiring bug, not a runtime condition.
		panic("weaveflow: pause layer requires a run id")
	}

	data, err := st.Dump()
	if err != nil {
		return fmt.Errorf("pause layer: %w", err)
	}
	if err := p.Store.Save(snapshot.Record{
		RunID: runID,
		Owner: p.Owner,
		Data:  data,
	}); err != nil {
		return fmt.Errorf("pause layer: %w", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordSnapshot(ctx, runID, int64(len(data)))
	}
	return nil
}
