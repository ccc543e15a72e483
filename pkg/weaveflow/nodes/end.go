package nodes

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// endConfig maps run output names to variable selectors.
type endConfig struct {
	Outputs map[string]string `json:"outputs"`
}

type endNode struct {
	base
	cfg endConfig
}

func buildEnd(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *Factory) (weaveflow.Node, error) {
	n := &endNode{base: base{id: spec.ID, typ: spec.Type}}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *endNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	pool := ctx.State().Pool()
	collected := make(map[string]any, len(n.cfg.Outputs))
	for name, selector := range n.cfg.Outputs {
		value, ok := vars.ResolvePath(pool, selector)
		if !ok {
			value = nil
		}
		collected[name] = value
		ctx.State().SetOutput(name, value)
	}
	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID:  n.id,
		Outputs: collected,
	})
}
