package nodes

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// Iteration error policies.
const (
	PolicyTerminated      = "terminated"
	PolicyContinueOnError = "continue_on_error"
	PolicyRemoveAbnormal  = "remove_abnormal_output"
)

// DefaultMaxParallel bounds concurrent passes in parallel mode.
const DefaultMaxParallel = 10

// iterationConfig configures a for-each over an array variable. Each
// pass binds "item" and "index" under the iteration node's own id, runs
// the body sub-graph, resolves Output against the body's variables, and
// removes every body-produced variable before the next pass.
type iterationConfig struct {
	// Input selects the array variable to iterate over.
	Input string `json:"input"`

	// Output selects, per pass, the body value collected into the
	// result array.
	Output string `json:"output"`

	// Parallel runs passes concurrently on cloned states. Pausing
	// inside a parallel pass is not supported and counts as a pass
	// failure under the error policy.
	Parallel    bool `json:"parallel"`
	MaxParallel int  `json:"max_parallel"`

	// ErrorPolicy is one of terminated (default), continue_on_error
	// (failed pass yields a null placeholder) or remove_abnormal_output
	// (failed pass yields nothing).
	ErrorPolicy string `json:"error_policy"`
}

type iterationNode struct {
	base
	cfg     iterationConfig
	graph   *weaveflow.Graph
	factory *Factory
}

func buildIteration(spec weaveflow.NodeSpec, g *weaveflow.Graph, f *Factory) (weaveflow.Node, error) {
	n := &iterationNode{base: base{id: spec.ID, typ: spec.Type}, graph: g, factory: f}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	switch n.cfg.ErrorPolicy {
	case "":
		n.cfg.ErrorPolicy = PolicyTerminated
	case PolicyTerminated, PolicyContinueOnError, PolicyRemoveAbnormal:
	default:
		return nil, fmt.Errorf("unknown error policy %q", n.cfg.ErrorPolicy)
	}
	if n.cfg.MaxParallel <= 0 {
		n.cfg.MaxParallel = DefaultMaxParallel
	}
	return n, nil
}

func (n *iterationNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	sub, ok := n.graph.Scope(n.id)
	if !ok {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  "iteration node owns no body sub-graph",
		})
	}

	pool := ctx.State().Pool()
	value, found := vars.ResolvePath(pool, n.cfg.Input)
	if !found {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  fmt.Sprintf("input %q not found", n.cfg.Input),
		})
	}
	items, ok := value.([]any)
	if !ok {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  fmt.Sprintf("input %q is not an array", n.cfg.Input),
		})
	}

	if n.cfg.Parallel {
		return n.runParallel(ctx, sub, items)
	}
	return n.runSequential(ctx, sub, items)
}

// progress reads the per-node resume markers: results collected so far
// and the number of completed passes. Both live under the iteration's
// own id, which is exempt from per-pass cleanup, so a mid-run pause
// snapshot carries them.
func (n *iterationNode) progress(pool *vars.Pool) (results []any, completed int) {
	if seg, ok := pool.Get(n.id, "output"); ok {
		results = append(results, seg.Items()...)
	}
	if seg, ok := pool.Get(n.id, "completed"); ok {
		completed = int(seg.Float())
	}
	return results, completed
}

func (n *iterationNode) saveProgress(pool *vars.Pool, results []any, completed int) {
	pool.AddSegment(n.id, "completed", vars.NewNumber(completed))
	if seg, err := vars.Infer(results); err == nil {
		pool.AddSegment(n.id, "output", seg)
	}
}

// cleanupPass removes every body-produced variable. The iteration's own
// variables (item, index, output, completed) are exempt.
func (n *iterationNode) cleanupPass(pool *vars.Pool) {
	pool.RemoveNodes(n.graph.ScopeNodes(n.id), n.id)
}

func (n *iterationNode) runSequential(ctx weaveflow.Context, sub *weaveflow.Graph, items []any) *weaveflow.EventStream {
	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		st := ctx.State()
		pool := st.Pool()
		results, completed := n.progress(pool)

		for i := completed; i < len(items); i++ {
			if err := pool.Add(n.id, "item", items[i]); err != nil {
				emit(event.NodeFailed{NodeID: n.id, Error: err.Error()})
				return nil
			}
			pool.AddSegment(n.id, "index", vars.NewNumber(i))

			eng := weaveflow.New(sub, st, n.factory,
				weaveflow.WithRunID(ctx.RunID()),
				weaveflow.WithScope(n.id),
				weaveflow.WithLogger(ctx.Logger()),
				weaveflow.WithCommands(ctx.Commands()),
				weaveflow.WithMaxSteps(0),
			)

			terminal := forwardBody(ctx, eng, emit)
			switch t := terminal.(type) {
			case event.RunSucceeded:
				value, _ := vars.ResolvePath(pool, n.cfg.Output)
				results = append(results, value)
				n.saveProgress(pool, results, i+1)
				n.cleanupPass(pool)

			case event.RunPaused:
				// Body pause propagates outward; the snapshot carries
				// the body frontier under this node's scope plus the
				// progress markers, so resume lands mid-pass.
				emit(event.PauseRequested{NodeID: n.id, Reason: t.Reason})
				return nil

			case event.RunFailed:
				switch n.cfg.ErrorPolicy {
				case PolicyTerminated:
					emit(event.NodeFailed{
						NodeID: n.id,
						Error:  fmt.Sprintf("pass %d: %s", i, t.Error),
					})
					return nil
				case PolicyContinueOnError:
					results = append(results, nil)
				case PolicyRemoveAbnormal:
					// Drop the pass's output entirely.
				}
				n.saveProgress(pool, results, i+1)
				n.cleanupPass(pool)

			default:
				emit(event.NodeFailed{NodeID: n.id, Error: "body run ended without a terminal event"})
				return nil
			}
		}

		emit(event.NodeSucceeded{
			NodeID:  n.id,
			Outputs: map[string]any{"output": results},
		})
		return nil
	})
}

func (n *iterationNode) runParallel(ctx weaveflow.Context, sub *weaveflow.Graph, items []any) *weaveflow.EventStream {
	type passResult struct {
		value  any
		failed bool
		errTxt string
		tokens int
	}

	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		st := ctx.State()
		results, completed := n.progress(st.Pool())
		pending := items[completed:]
		outcomes := make([]passResult, len(pending))
		baseTokens := st.Tokens()

		grp, grpCtx := errgroup.WithContext(ctx)
		grp.SetLimit(n.cfg.MaxParallel)

		for offset := range pending {
			index := completed + offset
			item := pending[offset]
			grp.Go(func() error {
				clone := st.Clone()
				clone.SetFrontier(n.id, nil)
				clone.SetSatisfiedEdges(n.id, nil)
				pool := clone.Pool()
				if err := pool.Add(n.id, "item", item); err != nil {
					outcomes[offset] = passResult{failed: true, errTxt: err.Error()}
					return nil
				}
				pool.AddSegment(n.id, "index", vars.NewNumber(index))

				eng := weaveflow.New(sub, clone, n.factory,
					weaveflow.WithRunID(ctx.RunID()),
					weaveflow.WithScope(n.id),
					weaveflow.WithLogger(ctx.Logger()),
					weaveflow.WithMaxSteps(0),
				)

				var out passResult
				for ev := range eng.Run(grpCtx) {
					if _, nodeScoped := event.NodeIDOf(ev); nodeScoped {
						emit(ev)
						continue
					}
					switch t := ev.(type) {
					case event.RunSucceeded:
						out.value, _ = vars.ResolvePath(pool, n.cfg.Output)
					case event.RunFailed:
						out.failed = true
						out.errTxt = t.Error
					case event.RunPaused:
						out.failed = true
						out.errTxt = "pause is not supported inside a parallel pass"
					}
				}
				out.tokens = clone.Tokens() - baseTokens
				outcomes[offset] = out
				if out.failed && n.cfg.ErrorPolicy == PolicyTerminated {
					return fmt.Errorf("pass %d: %s", index, out.errTxt)
				}
				return nil
			})
		}

		if err := grp.Wait(); err != nil {
			emit(event.NodeFailed{NodeID: n.id, Error: err.Error()})
			return nil
		}

		tokens := 0
		for _, out := range outcomes {
			tokens += out.tokens
			if out.failed {
				if n.cfg.ErrorPolicy == PolicyContinueOnError {
					results = append(results, nil)
				}
				continue
			}
			results = append(results, out.value)
		}

		emit(event.NodeSucceeded{
			NodeID:  n.id,
			Outputs: map[string]any{"output": results},
			Usage:   event.Usage{Tokens: tokens},
		})
		return nil
	})
}

// forwardBody drains a body sub-run, forwarding node-scoped events to
// the outer stream and returning the body's terminal run event.
func forwardBody(ctx weaveflow.Context, eng *weaveflow.Engine, emit func(event.Event) bool) event.Event {
	var terminal event.Event
	for ev := range eng.Run(ctx) {
		if event.IsTerminal(ev) {
			terminal = ev
			continue
		}
		if _, nodeScoped := event.NodeIDOf(ev); nodeScoped {
			if !emit(ev) {
				// Consumer went away; keep draining so the engine
				// goroutine can finish.
				continue
			}
		}
	}
	return terminal
}
