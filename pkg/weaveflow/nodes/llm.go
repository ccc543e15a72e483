package nodes

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// llmConfig describes one model call. The prompt is a template expanded
// against the pool at execution time.
type llmConfig struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type llmNode struct {
	base
	cfg  llmConfig
	deps Deps
}

func buildLLM(spec weaveflow.NodeSpec, _ *weaveflow.Graph, f *Factory) (weaveflow.Node, error) {
	n := &llmNode{base: base{id: spec.ID, typ: spec.Type}, deps: f.Deps()}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *llmNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	if n.deps.Model == nil {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  "no model invoker configured",
		})
	}

	req := ModelRequest{
		Model:  n.cfg.Model,
		Prompt: renderTemplate(ctx.State().Pool(), n.cfg.Prompt),
	}
	sel := event.Selector{NodeID: n.id, Path: "text"}

	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		// The invoker does not flag its last delta, so each text chunk
		// is held back one delta; the one still pending when Invoke
		// returns carries the final marker.
		var pending *event.TextChunk
		sentText := false
		flush := func(final bool) bool {
			if pending == nil {
				return true
			}
			c := *pending
			c.Final = final
			pending = nil
			sentText = true
			return emit(c)
		}

		res, err := n.deps.Model.Invoke(ctx, req, func(d ModelDelta) bool {
			if !flush(false) {
				return false
			}
			if d.Thought != "" {
				return emit(event.ThoughtChunk{
					Selector: event.Selector{NodeID: n.id, Path: "thought"},
					Chunk:    d.Thought,
					Round:    d.Round,
				})
			}
			pending = &event.TextChunk{Selector: sel, Chunk: d.Text}
			return true
		})
		if err != nil {
			emit(event.NodeFailed{NodeID: n.id, Error: err.Error()})
			return nil
		}
		if pending != nil {
			if !flush(true) {
				return nil
			}
		} else if sentText {
			// The stream ended on a thought; close the text stream with
			// an empty final chunk.
			if !emit(event.TextChunk{Selector: sel, Final: true}) {
				return nil
			}
		}
		emit(event.NodeSucceeded{
			NodeID:  n.id,
			Outputs: map[string]any{"text": res.Text},
			Usage:   event.Usage{Tokens: res.Tokens},
		})
		return nil
	})
}
