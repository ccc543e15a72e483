package weaveflow

// NodeSpec declares one node of a graph definition.
type NodeSpec struct {
	// ID uniquely identifies the node within the whole definition,
	// including nested sub-graphs.
	ID string `json:"id" yaml:"id"`

	// Type names the node behavior; the factory maps it to a Node.
	Type string `json:"type" yaml:"type"`

	// Title is an optional human-readable label.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Config carries type-specific configuration.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// InScope binds the node into the body sub-graph owned by the named
	// iteration or loop node. Empty means the top-level graph.
	InScope string `json:"in_scope,omitempty" yaml:"in_scope,omitempty"`
}

// EdgeSpec declares one directed edge.
type EdgeSpec struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Tag labels a conditional edge. A branch node activates exactly
	// one outgoing edge by tag; untagged edges always activate.
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// InScope binds the edge into a body sub-graph; both endpoints must
	// live in the same scope.
	InScope string `json:"in_scope,omitempty" yaml:"in_scope,omitempty"`
}

// Key returns a stable identifier for the edge, used to persist edge
// satisfaction across a pause.
func (e EdgeSpec) Key() string {
	return e.From + "->" + e.To + "#" + e.Tag
}

// Definition is the declarative node/edge configuration a Graph is
// compiled from.
type Definition struct {
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges []EdgeSpec `json:"edges" yaml:"edges"`
}
