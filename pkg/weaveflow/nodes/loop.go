package nodes

import (
	"fmt"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/expr"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// loopConfig configures bounded repetition of a body sub-graph. Passes
// run sequentially; after each pass the break condition is evaluated and
// body-produced variables are removed, exactly like iteration cleanup.
type loopConfig struct {
	// Count is the maximum number of passes. Required, positive.
	Count int `json:"count"`

	// BreakCondition is evaluated against the pool after each pass;
	// when it holds, the loop stops early. Empty means run Count passes.
	BreakCondition string `json:"break_condition"`

	// Output selects, per pass, the body value kept as the loop's
	// result. The last completed pass wins.
	Output string `json:"output"`
}

type loopNode struct {
	base
	cfg     loopConfig
	graph   *weaveflow.Graph
	factory *Factory
}

func buildLoop(spec weaveflow.NodeSpec, g *weaveflow.Graph, f *Factory) (weaveflow.Node, error) {
	n := &loopNode{base: base{id: spec.ID, typ: spec.Type}, graph: g, factory: f}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	if n.cfg.Count <= 0 {
		return nil, fmt.Errorf("loop node %s: count must be positive", spec.ID)
	}
	return n, nil
}

func (n *loopNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	sub, ok := n.graph.Scope(n.id)
	if !ok {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  "loop node owns no body sub-graph",
		})
	}

	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		st := ctx.State()
		pool := st.Pool()

		completed := 0
		if seg, ok := pool.Get(n.id, "completed"); ok {
			completed = int(seg.Float())
		}
		var result any
		if seg, ok := pool.Get(n.id, "output"); ok {
			result = seg.Value
		}

		for i := completed; i < n.cfg.Count; i++ {
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
				if n.cfg.Output != "" {
					if value, ok := vars.ResolvePath(pool, n.cfg.Output); ok {
						result = value
						// Persisted under the loop's own id for mid-loop resume.
						_ = pool.Add(n.id, "output", value)
					}
				}
				pool.AddSegment(n.id, "completed", vars.NewNumber(i+1))

				stop := false
				if n.cfg.BreakCondition != "" {
					var err error
					stop, err = expr.Evaluate(n.cfg.BreakCondition, poolLookup(pool))
					if err != nil {
						emit(event.NodeFailed{
							NodeID: n.id,
							Error:  fmt.Sprintf("break condition: %v", err),
						})
						return nil
					}
				}
				pool.RemoveNodes(n.graph.ScopeNodes(n.id), n.id)
				if stop {
					i = n.cfg.Count
				}

			case event.RunPaused:
				emit(event.PauseRequested{NodeID: n.id, Reason: t.Reason})
				return nil

			case event.RunFailed:
				emit(event.NodeFailed{
					NodeID: n.id,
					Error:  fmt.Sprintf("pass %d: %s", i, t.Error),
				})
				return nil

			default:
				emit(event.NodeFailed{NodeID: n.id, Error: "body run ended without a terminal event"})
				return nil
			}
		}

		outputs := map[string]any{"output": result}
		if seg, ok := pool.Get(n.id, "completed"); ok {
			outputs["rounds"] = seg.Value
		}
		emit(event.NodeSucceeded{NodeID: n.id, Outputs: outputs})
		return nil
	})
}
