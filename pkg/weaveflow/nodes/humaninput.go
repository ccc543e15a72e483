package nodes

import (
	"fmt"
	"time"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/event"
)

// humanInputConfig configures a human-input gate. The node pauses the
// run until the caller binds the reply variable under the node's id and
// resumes. ExpiresAt bounds the wait: resuming after the deadline fails
// the node. Time-boxing is node-local; the engine never preempts.
type humanInputConfig struct {
	// ReplyKey is the pool variable name the caller must bind.
	// Defaults to "reply".
	ReplyKey string `json:"reply_key"`

	// ExpiresAt is an optional RFC3339 deadline.
	ExpiresAt string `json:"expires_at"`

	// Reason is carried on the PauseRequested event.
	Reason string `json:"reason"`
}

type humanInputNode struct {
	base
	cfg  humanInputConfig
	deps Deps
}

func buildHumanInput(spec weaveflow.NodeSpec, _ *weaveflow.Graph, f *Factory) (weaveflow.Node, error) {
	n := &humanInputNode{base: base{id: spec.ID, typ: spec.Type}, deps: f.Deps()}
	if err := decodeConfig(spec.Config, &n.cfg); err != nil {
		return nil, err
	}
	if n.cfg.ReplyKey == "" {
		n.cfg.ReplyKey = "reply"
	}
	return n, nil
}

func (n *humanInputNode) Run(ctx weaveflow.Context) *weaveflow.EventStream {
	if seg, ok := ctx.State().Pool().Get(n.id, n.cfg.ReplyKey); ok {
		return weaveflow.StreamOf(event.NodeSucceeded{
			NodeID:  n.id,
			Outputs: map[string]any{n.cfg.ReplyKey: seg.Value},
		})
	}

	if n.cfg.ExpiresAt != "" {
		deadline, err := time.Parse(time.RFC3339, n.cfg.ExpiresAt)
		if err != nil {
			return weaveflow.StreamOf(event.NodeFailed{
				NodeID: n.id,
				Error:  fmt.Sprintf("invalid expires_at %q: %v", n.cfg.ExpiresAt, err),
			})
		}
		if n.deps.now().After(deadline) {
			return weaveflow.StreamOf(event.NodeFailed{
				NodeID: n.id,
				Error:  "input wait expired",
			})
		}
	}

	reason := n.cfg.Reason
	if reason == "" {
		reason = "awaiting input"
	}
	return weaveflow.StreamOf(event.PauseRequested{NodeID: n.id, Reason: reason})
}
