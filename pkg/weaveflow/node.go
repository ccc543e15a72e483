package weaveflow

// Node is a single executable unit of a workflow graph. Implementations
// read their inputs from the variable pool, do their work, and describe
// the outcome as a lazy event stream.
//
// Run must emit exactly one terminal node event (NodeSucceeded,
// NodeFailed or PauseRequested) as the last event of the stream. Chunk
// events may precede it. The engine recovers panics, so a node that
// panics is reported as a failure rather than crashing the run.
type Node interface {
	// ID returns the node's unique id within the graph.
	ID() string

	// Type returns the node's registered type name.
	Type() string

	// Run executes the node. It must not block before returning the
	// stream; any long-running work happens as the stream is pulled.
	Run(ctx Context) *EventStream
}

// Factory builds Nodes from their declarative specs. The engine calls
// Build once per node execution, so factories must be safe for
// concurrent use.
type Factory interface {
	// Build constructs the node described by spec. The graph is provided
	// so container nodes (iteration, loop) can reach their body
	// sub-graph. Returns ErrUnknownNodeType when the spec's type has no
	// registered builder.
	Build(spec NodeSpec, g *Graph) (Node, error)
}
