package weaveflow

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/command"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/observability"
)

// DefaultMaxSteps bounds node executions per run attempt. The limit
// guards against misconfigured iteration counts; raise it with
// WithMaxSteps for genuinely large graphs.
const DefaultMaxSteps = 500

// Option configures an Engine.
type Option func(*Engine)

// WithRunID sets an explicit run id. Defaults to a fresh UUID.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracing sets the span manager. Defaults to a no-op manager.
func WithTracing(s observability.SpanManager) Option {
	return func(e *Engine) {
		e.spans = s
	}
}

// WithCommands attaches an external command channel. The engine polls
// it before every node dispatch; without one, a run can only be
// interrupted through context cancellation.
func WithCommands(ch command.Channel) Option {
	return func(e *Engine) {
		e.cmds = ch
	}
}

// WithLayers attaches event layers, invoked in order for every emitted
// event. Layer errors never abort the run; they accumulate into Err.
func WithLayers(layers ...Layer) Option {
	return func(e *Engine) {
		e.layers = append(e.layers, layers...)
	}
}

// WithMaxSteps overrides the per-run node execution limit. Zero or
// negative disables the limit.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithScope marks the engine as running the body sub-graph owned by the
// given node id. The scope keys the paused frontier in the runtime
// state, so nested pauses restore into the right sub-graph.
func WithScope(owner string) Option {
	return func(e *Engine) {
		e.scope = owner
	}
}

func newRunID() string {
	return uuid.New().String()
}
