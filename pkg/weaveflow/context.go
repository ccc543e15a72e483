package weaveflow

import (
	"context"
	"log/slog"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/command"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/state"
)

// Context is the execution context handed to a node's Run method. It
// extends context.Context with run-scoped accessors: the shared runtime
// state (and through it the variable pool), an enriched logger, and the
// external command channel for nodes that need to observe stop requests
// mid-stream.
type Context interface {
	context.Context

	// RunID returns the id of the enclosing run.
	RunID() string

	// NodeID returns the id of the node being executed.
	NodeID() string

	// State returns the shared runtime state of the run.
	State() *state.RuntimeState

	// Logger returns a logger enriched with run and node ids.
	Logger() *slog.Logger

	// Commands returns the run's command channel, or nil when the run
	// was started without one.
	Commands() command.Channel
}

// execContext is the engine's Context implementation.
type execContext struct {
	context.Context
	runID  string
	nodeID string
	st     *state.RuntimeState
	logger *slog.Logger
	cmds   command.Channel
}

func newExecContext(ctx context.Context, runID string, st *state.RuntimeState, logger *slog.Logger, cmds command.Channel) *execContext {
	return &execContext{
		Context: ctx,
		runID:   runID,
		st:      st,
		logger:  logger,
		cmds:    cmds,
	}
}

// withNodeID derives a per-node context with an enriched logger.
func (c *execContext) withNodeID(nodeID string) *execContext {
	derived := *c
	derived.nodeID = nodeID
	derived.logger = c.logger.With(slog.String("node_id", nodeID))
	return &derived
}

func (c *execContext) RunID() string { return c.runID }

func (c *execContext) NodeID() string { return c.nodeID }

func (c *execContext) State() *state.RuntimeState { return c.st }

func (c *execContext) Logger() *slog.Logger { return c.logger }

func (c *execContext) Commands() command.Channel { return c.cmds }
