package weaveflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/command"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/observability"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/snapshot"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
)

// Engine drives one run attempt of a compiled graph. It is single-use:
// Run may be called once; resuming a paused run constructs a fresh
// engine over the restored state (see Resume).
//
// Scheduling is deterministic. Ready nodes are dispatched strictly FIFO;
// when one completion readies several successors they enqueue in edge
// declaration order. A node becomes ready only when every one of its
// inbound edges has been satisfied.
type Engine struct {
	graph    *Graph
	st       *state.RuntimeState
	factory  Factory
	runID    string
	scope    string
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	cmds     command.Channel
	layers   []Layer
	maxSteps int

	consumed atomic.Bool

	mu   sync.Mutex
	errs []error
}

// New creates an engine over a compiled graph, a runtime state and a
// node factory. The state may be fresh (state.New) or restored from a
// snapshot; a restored state with a paused frontier resumes from it.
func New(g *Graph, st *state.RuntimeState, factory Factory, opts ...Option) *Engine {
	e := &Engine{
		graph:    g,
		st:       st,
		factory:  factory,
		runID:    newRunID(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resume loads a paused run's snapshot from the store and returns a
// fresh engine that will continue it under the same run id.
func Resume(g *Graph, factory Factory, store snapshot.Store, runID string, opts ...Option) (*Engine, error) {
	rec, err := store.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	st, err := state.FromSnapshot(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	opts = append([]Option{WithRunID(runID)}, opts...)
	return New(g, st, factory, opts...), nil
}

// RunID returns the run id of this attempt.
func (e *Engine) RunID() string { return e.runID }

// State returns the runtime state the engine mutates.
func (e *Engine) State() *state.RuntimeState { return e.st }

// Graph returns the compiled graph under execution.
func (e *Engine) Graph() *Graph { return e.graph }

// Err returns errors accumulated outside the event stream, such as
// layer failures. Valid once the stream returned by Run has closed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func (e *Engine) recordErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Run executes the graph and returns the run's event stream. The first
// event is always RunStarted and the last is exactly one of
// RunSucceeded, RunFailed or RunPaused, after which the channel closes.
// Cancelling ctx aborts the run with RunFailed.
func (e *Engine) Run(ctx context.Context) <-chan event.Event {
	out := make(chan event.Event)
	if !e.consumed.CompareAndSwap(false, true) {
		e.recordErr(ErrEngineConsumed)
		go func() {
			defer close(out)
			select {
			case out <- event.RunFailed{Error: ErrEngineConsumed.Error()}:
			case <-ctx.Done():
			}
		}()
		return out
	}
	go e.run(ctx, out)
	return out
}

func (e *Engine) run(ctx context.Context, out chan<- event.Event) {
	defer close(out)

	started := time.Now()
	logger := e.logger.With(slog.String("run_id", e.runID))

	ctx, runSpan := e.spans.StartRunSpan(ctx, e.runID)

	emit := func(ev event.Event) bool {
		for _, l := range e.layers {
			if err := l.OnEvent(ctx, e.runID, e.st, ev); err != nil {
				e.recordErr(fmt.Errorf("layer %s: %w", l.Name(), err))
			}
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error, lastNode string) {
		// A failed run is not resumable; drop any stale frontier so a
		// container node re-running this scope starts clean.
		e.st.SetFrontier(e.scope, nil)
		e.st.SetSatisfiedEdges(e.scope, nil)
		observability.LogRunError(logger, err, durationMs(started), lastNode)
		e.metrics.RecordRun(ctx, "failed", time.Since(started))
		e.spans.EndSpanWithError(runSpan, err)
		emit(event.RunFailed{Error: err.Error(), ExceptionCount: e.st.Exceptions()})
	}

	// Resume from the persisted frontier when the state carries one.
	ready := e.st.Frontier(e.scope)
	resumed := len(ready) > 0
	if !resumed {
		ready = []string{e.graph.EntryID()}
	}
	satisfied := make(map[string]bool)
	for _, key := range e.st.SatisfiedEdges(e.scope) {
		satisfied[key] = true
	}

	reason := event.ReasonInitial
	if resumed {
		reason = event.ReasonResumption
	}
	observability.LogRunStart(logger, resumed)
	if !emit(event.RunStarted{Reason: reason}) {
		return
	}

	pause := func(frontier []string, pauseReason string) {
		e.st.SetFrontier(e.scope, frontier)
		keys := make([]string, 0, len(satisfied))
		for k := range satisfied {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.st.SetSatisfiedEdges(e.scope, keys)

		observability.LogRunPaused(logger, pauseReason)
		e.metrics.RecordRun(ctx, "paused", time.Since(started))
		e.spans.EndSpanWithError(runSpan, nil)
		emit(event.RunPaused{Reason: pauseReason, Outputs: e.st.Outputs()})
	}

	base := newExecContext(ctx, e.runID, e.st, logger, e.cmds)

	for len(ready) > 0 {
		// Safe point: honor external pause/stop before dispatching.
		if e.cmds != nil {
			if cmds, err := e.cmds.Fetch(ctx); err == nil && hasInterrupt(cmds) {
				pause(ready, "command")
				return
			}
		}
		if err := ctx.Err(); err != nil {
			fail(err, "")
			return
		}

		id := ready[0]
		ready = ready[1:]
		e.st.SetReadyLen(len(ready))

		if e.maxSteps > 0 && e.st.Steps() >= e.maxSteps {
			fail(fmt.Errorf("%w: %d", ErrMaxSteps, e.maxSteps), id)
			return
		}

		spec, ok := e.graph.Spec(id)
		if !ok {
			fail(fmt.Errorf("%w: %s", ErrUnknownNode, id), id)
			return
		}

		observability.LogNodeStart(logger, id)
		if !emit(event.NodeStarted{NodeID: id}) {
			return
		}

		node, err := e.factory.Build(spec, e.graph)
		if err != nil {
			fail(fmt.Errorf("build %s: %w", id, err), id)
			return
		}

		nodeStarted := time.Now()
		nodeCtx, nodeSpan := e.spans.StartNodeSpan(ctx, id)
		nc := base.withNodeID(id)
		nc.Context = nodeCtx

		terminal, delivered := e.execNode(nc, node, emit)
		if !delivered {
			e.spans.EndSpanWithError(nodeSpan, ctx.Err())
			return
		}

		switch t := terminal.(type) {
		case event.NodeSucceeded:
			for name, value := range t.Outputs {
				if err := e.st.Pool().Add(id, name, value); err != nil {
					e.spans.EndSpanWithError(nodeSpan, err)
					fail(fmt.Errorf("bind outputs of %s: %w", id, err), id)
					return
				}
			}
			e.st.AddTokens(t.Usage.Tokens)
			e.st.IncrSteps()
			e.metrics.RecordNodeExecution(ctx, id, time.Since(nodeStarted), false)
			e.spans.EndSpanWithError(nodeSpan, nil)
			observability.LogNodeComplete(logger, id, durationMs(nodeStarted))

			for _, edge := range e.graph.OutEdges(id) {
				if !edgeActive(edge, t.EdgeTags) {
					continue
				}
				satisfied[edge.Key()] = true
				if e.inEdgesSatisfied(edge.To, satisfied) {
					ready = append(ready, edge.To)
				}
			}

		case event.NodeFailed:
			e.st.IncrExceptions()
			e.st.IncrSteps()
			e.metrics.RecordNodeExecution(ctx, id, time.Since(nodeStarted), true)
			e.spans.EndSpanWithError(nodeSpan, &NodeError{NodeID: id, Err: errors.New(t.Error)})
			observability.LogNodeError(logger, id, t.Error)
			fail(&NodeError{NodeID: id, Err: errors.New(t.Error)}, id)
			return

		case event.PauseRequested:
			// The node did not complete; on resume it runs again from
			// the head of the frontier.
			e.metrics.RecordNodeExecution(ctx, id, time.Since(nodeStarted), false)
			e.spans.EndSpanWithError(nodeSpan, nil)
			pause(append([]string{id}, ready...), t.Reason)
			return
		}
	}

	e.st.SetFrontier(e.scope, nil)
	e.st.SetSatisfiedEdges(e.scope, nil)
	e.st.SetReadyLen(0)

	observability.LogRunComplete(logger, durationMs(started), e.st.Steps())
	e.metrics.RecordRun(ctx, "succeeded", time.Since(started))
	e.spans.EndSpanWithError(runSpan, nil)
	emit(event.RunSucceeded{Outputs: e.st.Outputs()})
}

// execNode drains one node's event stream, forwarding every event. It
// returns the node's terminal event, synthesizing NodeFailed from stream
// errors and panics so a node can never crash the run. delivered is
// false when the consumer went away mid-stream.
func (e *Engine) execNode(ctx Context, node Node, emit func(event.Event) bool) (terminal event.Event, delivered bool) {
	delivered = true
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{NodeID: node.ID(), Value: r, Stack: string(debug.Stack())}
			ctx.Logger().Error("node panicked",
				slog.String("node_id", node.ID()),
				slog.Any("panic", r),
			)
			t := event.NodeFailed{NodeID: node.ID(), Error: perr.Error()}
			terminal = t
			delivered = emit(t)
		}
	}()

	stream := node.Run(ctx)
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		// Container nodes forward their body's events; only the node's
		// own terminal ends its execution.
		if event.IsNodeTerminal(ev) {
			if id, ok := event.NodeIDOf(ev); ok && id == node.ID() {
				terminal = ev
			}
		}
		if !emit(ev) {
			// The consumer went away mid-stream; release the stream so
			// a goroutine-backed producer can exit.
			stream.Close()
			return terminal, false
		}
	}

	if err := stream.Err(); err != nil {
		t := event.NodeFailed{NodeID: node.ID(), Error: err.Error()}
		terminal = t
		return t, emit(t)
	}
	if terminal == nil {
		// A well-behaved node always ends with a terminal event; treat
		// a bare stream as success with no outputs.
		t := event.NodeSucceeded{NodeID: node.ID()}
		terminal = t
		return t, emit(t)
	}
	return terminal, true
}

// inEdgesSatisfied reports whether every inbound edge of the node has
// been activated. Join semantics: a node with several inbound edges
// waits for all of them.
func (e *Engine) inEdgesSatisfied(id string, satisfied map[string]bool) bool {
	for _, in := range e.graph.InEdges(id) {
		if !satisfied[in.Key()] {
			return false
		}
	}
	return true
}

// edgeActive reports whether a completion with the given edge tags
// activates the edge. Untagged edges always activate; tagged edges
// activate when the node named their tag, or named no tags at all.
func edgeActive(edge EdgeSpec, tags []string) bool {
	if edge.Tag == "" {
		return true
	}
	if tags == nil {
		return true
	}
	return slices.Contains(tags, edge.Tag)
}

func hasInterrupt(cmds []command.Command) bool {
	for _, c := range cmds {
		if c.Kind == command.KindPause || c.Kind == command.KindStop {
			return true
		}
	}
	return false
}

func durationMs(since time.Time) float64 {
	return float64(time.Since(since).Microseconds()) / 1000.0
}
