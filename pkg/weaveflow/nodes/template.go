package nodes

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// templateConfig maps output names to templates or config values.
// A value that is exactly one ${selector} keeps the resolved value's
// type; everything else renders to a string.
type templateConfig struct {
	Outputs map[string]any `json:"outputs"`
}

type templateNode struct {
	base
	cfg templateConfig
}

func buildTemplate(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *Factory) (weaveflow.Node, error) {
	n := &templateNode{base: base{id: spec.ID, typ: spec.Type}}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *templateNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	pool := ctx.State().Pool()
	outputs := make(map[string]any, len(n.cfg.Outputs))
	for name, tmpl := range n.cfg.Outputs {
		outputs[name] = renderValue(pool, tmpl)
	}
	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID:  n.id,
		Outputs: outputs,
	})
}
