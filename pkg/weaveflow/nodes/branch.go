package nodes

import (
	"fmt"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/expr"
)

// branchCase is one ordered condition of a branch node. The first case
// whose condition holds selects its edge tag.
type branchCase struct {
	Condition string `json:"condition"`
	Tag       string `json:"tag"`
}

// branchConfig declares the ordered cases and the default edge tag taken
// when no case matches.
type branchConfig struct {
	Cases   []branchCase `json:"cases"`
	Default string       `json:"default"`
}

type branchNode struct {
	base
	cfg branchConfig
}

func buildBranch(spec weaveflow.NodeSpec, _ *weaveflow.Graph, _ *Factory) (weaveflow.Node, error) {
	n := &branchNode{base: base{id: spec.ID, typ: spec.Type}}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *branchNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	lookup := poolLookup(ctx.State().Pool())

	selected := n.cfg.Default
	matched := false
	for _, c := range n.cfg.Cases {
		ok, err := expr.Evaluate(c.Condition, lookup)
		if err != nil {
			return weaveflow.StreamOf(event.NodeFailed{
				NodeID: n.id,
				Error:  fmt.Sprintf("condition %q: %v", c.Condition, err),
			})
		}
		if ok {
			selected = c.Tag
			matched = true
			break
		}
	}
	if selected == "" {
		return weaveflow.StreamOf(event.NodeFailed{
			NodeID: n.id,
			Error:  "no case matched and no default tag configured",
		})
	}

	return weaveflow.StreamOf(event.NodeSucceeded{
		NodeID: n.id,
		Outputs: map[string]any{
			"selected": selected,
			"matched":  matched,
		},
		// Exactly one outgoing edge activates.
		EdgeTags: []string{selected},
	})
}
