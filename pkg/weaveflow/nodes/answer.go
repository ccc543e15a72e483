package nodes

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// answerConfig holds the response template. Selectors use the
// ${node.variable} form; the rendered text streams out as chunks and
// accumulates into the run outputs under "answer".
type answerConfig struct {
	Template string `json:"template"`
}

type answerNode struct {
	base
	cfg answerConfig
}

func buildAnswer(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *Factory) (weaveflow.Node, error) {
	n := &answerNode{base: base{id: spec.ID, typ: spec.Type}}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *answerNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	parts := parseTemplate(n.cfg.Template)
	pool := ctx.State().Pool()
	sel := event.Selector{NodeID: n.id, Path: "answer"}

	var chunks []string
	var rendered string
	prepared := false
	i := 0
	return weaveflow.NewStream(func() (event.Event, bool) {
		// Every part renders on the first pull; trailing parts may
		// render empty, so only then is the last chunk known and able
		// to carry the final marker.
		if !prepared {
			prepared = true
			for _, part := range parts {
				if text := renderPart(pool, part); text != "" {
					chunks = append(chunks, text)
					rendered += text
				}
			}
		}
		if i < len(chunks) {
			ev := event.TextChunk{
				Selector: sel,
				Chunk:    chunks[i],
				Final:    i == len(chunks)-1,
			}
			i++
			return ev, true
		}
		if i == len(chunks) {
			i++
			ctx.State().SetOutput("answer", rendered)
			return event.NodeSucceeded{
				NodeID:  n.id,
				Outputs: map[string]any{"answer": rendered},
			}, true
		}
		return nil, false
	})
}
