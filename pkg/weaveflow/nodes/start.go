package nodes

import (
	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// startConfig declares the run inputs a start node binds into the pool.
// Inputs bind under the node's own id; the reserved maps bind under the
// sys/env/conv producer ids.
type startConfig struct {
	Inputs       map[string]any `json:"inputs"`
	System       map[string]any `json:"sys"`
	Environment  map[string]any `json:"env"`
	Conversation map[string]any `json:"conv"`
}

type startNode struct {
	base
	cfg startConfig
}

func buildStart(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *Factory) (weaveflow.Node, error) {
	n := &startNode{base: base{id: spec.ID, typ: spec.Type}}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *startNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	pool := ctx.State().Pool()
	reserved := []struct {
		id     string
		values map[string]any
	}{
		{vars.SystemNodeID, n.cfg.System},
		{vars.EnvironmentNodeID, n.cfg.Environment},
		{vars.ConversationNodeID, n.cfg.Conversation},
	}
	for _, r := range reserved {
		for name, value := range r.values {
			if err := pool.Add(r.id, name, value); err != nil {
				return weaveflow.StreamOf(event.NodeFailed{
					NodeID: n.id,
					Error:  err.Error(),
				})
			}
		}
	}
	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID:  n.id,
		Outputs: n.cfg.Inputs,
	})
}
