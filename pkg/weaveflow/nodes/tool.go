package nodes

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// toolConfig describes one tool call. Argument values may embed
// ${selector} templates, rendered at execution time.
type toolConfig struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type toolNode struct {
	base
	cfg  toolConfig
	deps Deps
}

func buildTool(spec weaveflow.NodeSpec, _ *weaveflow.Graph, f *Factory) (weaveflow.Node, error) {
	n := &toolNode{base: base{id: spec.ID, typ: spec.Type}, deps: f.Deps()}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *toolNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	if n.deps.Tools == nil {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  "no tool invoker configured",
		})
	}

	args := make(map[string]any, len(n.cfg.Args))
	for k, v := range n.cfg.Args {
		args[k] = renderValue(ctx.State().Pool(), v)
	}
	callID := uuid.New().String()
	sel := event.Selector{NodeID: n.id, Path: "output"}

	return weaveflow.GoStream(func(emit func(event.Event) bool) error {
		argText, _ := json.Marshal(args)
		if !emit(event.ToolCallChunk{
			Selector: sel,
			CallID:   callID,
			ToolName: n.cfg.Tool,
			Args:     string(argText),
			Final:    true,
		}) {
			return nil
		}

		res, err := n.deps.Tools.Invoke(ctx, ToolRequest{Tool: n.cfg.Tool, Args: args})
		if err != nil {
			emit(event.NodeFailed{NodeID: n.id, Error: err.Error()})
			return nil
		}

		if !emit(event.ToolResultChunk{
			Selector:  sel,
			CallID:    callID,
			ToolName:  n.cfg.Tool,
			Files:     res.Files,
			ErrorText: res.ErrorText,
			Final:     true,
		}) {
			return nil
		}
		if res.ErrorText != "" {
			emit(event.NodeFailed{NodeID: n.id, Error: res.ErrorText})
			return nil
		}

		outputs := map[string]any{"output": res.Output}
		if len(res.Files) > 0 {
			files := make([]any, len(res.Files))
			for i, fr := range res.Files {
				files[i] = fr
			}
			outputs["files"] = files
		}
		emit(event.NodeSucceeded{NodeID: n.id, Outputs: outputs})
		return nil
	})
}
