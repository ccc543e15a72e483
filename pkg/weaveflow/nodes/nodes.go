// Package nodes implements the built-in node types of the workflow
// engine: start, end, answer, branch, template, llm, tool, human_input,
// iteration and loop. Nodes are built by a registry-backed Factory;
// external collaborators (model and tool invokers) are injected through
// the factory's Deps.
package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/registry"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// ModelRequest describes one model call assembled from an llm node's
// configuration, with all variable selectors already rendered.
type ModelRequest struct {
	Model  string
	Prompt string
}

// ModelDelta is one streamed fragment of a model response. Text and
// Thought are mutually exclusive per delta.
type ModelDelta struct {
	Text    string
	Thought string
	Round   int
}

// ModelResult is the final accumulated model response.
type ModelResult struct {
	Text   string
	Tokens int
}

// ModelInvoker abstracts the model backend used by llm nodes. Invoke
// streams deltas through fn; returning false from fn stops generation.
type ModelInvoker interface {
	Invoke(ctx context.Context, req ModelRequest, fn func(ModelDelta) bool) (ModelResult, error)
}

// ToolRequest describes one tool call with rendered arguments.
type ToolRequest struct {
	Tool string
	Args map[string]any
}

// ToolResult is the outcome of a tool call. A non-empty ErrorText marks
// a tool-level failure.
type ToolResult struct {
	Output    any
	Files     []vars.FileRef
	ErrorText string
}

// ToolInvoker abstracts the tool backend used by tool nodes.
type ToolInvoker interface {
	Invoke(ctx context.Context, req ToolRequest) (ToolResult, error)
}

// Deps carries the external collaborators injected into built nodes.
type Deps struct {
	Model ModelInvoker
	Tools ToolInvoker

	// Now is the clock used for human-input expiration checks.
	// Defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Builder constructs a node from its spec. The factory is passed so
// container nodes can build their body's nodes.
type Builder func(spec weaveflow.NodeSpec, g *weaveflow.Graph, f *Factory) (weaveflow.Node, error)

// Factory maps declared node types to builders. The built-in types are
// registered by NewFactory; Register adds or overrides a type.
type Factory struct {
	deps     Deps
	builders *registry.Registry[string, Builder]
}

// NewFactory creates a factory with all built-in node types registered.
func NewFactory(deps Deps) *Factory {
	f := &Factory{
		deps:     deps,
		builders: registry.New[string, Builder](),
	}
	f.Register(weaveflow.TypeStart, buildStart)
	f.Register(weaveflow.TypeEnd, buildEnd)
	f.Register(weaveflow.TypeAnswer, buildAnswer)
	f.Register(weaveflow.TypeBranch, buildBranch)
	f.Register(weaveflow.TypeTemplate, buildTemplate)
	f.Register(weaveflow.TypeLLM, buildLLM)
	f.Register(weaveflow.TypeTool, buildTool)
	f.Register(weaveflow.TypeHumanInput, buildHumanInput)
	f.Register(weaveflow.TypeIteration, buildIteration)
	f.Register(weaveflow.TypeLoop, buildLoop)
	return f
}

// Register adds or replaces the builder for a node type.
func (f *Factory) Register(nodeType string, b Builder) {
	f.builders.Register(nodeType, b)
}

// Deps returns the factory's injected collaborators.
func (f *Factory) Deps() Deps {
	return f.deps
}

// Build implements weaveflow.Factory.
func (f *Factory) Build(spec weaveflow.NodeSpec, g *weaveflow.Graph) (weaveflow.Node, error) {
	b, ok := f.builders.Get(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (node %s)", weaveflow.ErrUnknownNodeType, spec.Type, spec.ID)
	}
	return b(spec, g, f)
}

var _ weaveflow.Factory = (*Factory)(nil)

// base carries the identity shared by every built-in node.
type base struct {
	id  string
	typ string
}

func (b base) ID() string   { return b.id }
func (b base) Type() string { return b.typ }
