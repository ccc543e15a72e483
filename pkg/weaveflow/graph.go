package weaveflow

import (
	"fmt"
)

// Built-in node type names. The factory in the nodes package registers a
// builder per type; custom types may be registered alongside them.
const (
	TypeStart      = "start"
	TypeEnd        = "end"
	TypeAnswer     = "answer"
	TypeBranch     = "branch"
	TypeTemplate   = "template"
	TypeLLM        = "llm"
	TypeTool       = "tool"
	TypeHumanInput = "human_input"
	TypeIteration  = "iteration"
	TypeLoop       = "loop"
)

// scopeOwners lists the node types that may own a body sub-graph.
var scopeOwners = map[string]bool{
	TypeIteration: true,
	TypeLoop:      true,
}

// Graph is the immutable compiled topology of a workflow: validated node
// specs, directed edges and nested body sub-graphs. It exposes traversal
// queries only; a Graph is owned by the engine that runs it and is never
// mutated after compilation.
type Graph struct {
	specs      map[string]NodeSpec
	out        map[string][]EdgeSpec
	in         map[string][]EdgeSpec
	entry      string
	scopeNodes map[string][]string
	subgraphs  map[string]*Graph
	def        Definition
}

// Compile validates a declarative definition and builds the immutable
// Graph. It returns a *ValidationError listing every structural problem:
// duplicate node ids, edges referencing unknown nodes, zero or multiple
// entry nodes per (sub-)graph, edges crossing sub-graph boundaries,
// unreachable nodes, and cycles.
func Compile(def Definition) (*Graph, error) {
	var errs []error

	specs := make(map[string]NodeSpec, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, exists := specs[n.ID]; exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID))
			continue
		}
		specs[n.ID] = n
	}

	// Scope owners must exist and be iteration/loop nodes.
	for _, n := range def.Nodes {
		if n.InScope == "" {
			continue
		}
		owner, ok := specs[n.InScope]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: node %s declares scope %s", ErrUnknownScope, n.ID, n.InScope))
			continue
		}
		if !scopeOwners[owner.Type] {
			errs = append(errs, fmt.Errorf("%w: node %s cannot own a sub-graph", ErrUnknownScope, owner.ID))
		}
	}

	// Group nodes by scope, preserving declaration order.
	scopeNodes := make(map[string][]string)
	scopeOf := make(map[string]string)
	for _, n := range def.Nodes {
		if _, dup := scopeOf[n.ID]; dup {
			continue
		}
		scopeNodes[n.InScope] = append(scopeNodes[n.InScope], n.ID)
		scopeOf[n.ID] = n.InScope
	}

	out := make(map[string][]EdgeSpec)
	in := make(map[string][]EdgeSpec)
	edgesByScope := make(map[string][]EdgeSpec)
	for _, e := range def.Edges {
		fromScope, fromOK := scopeOf[e.From]
		toScope, toOK := scopeOf[e.To]
		if !fromOK {
			errs = append(errs, fmt.Errorf("%w: edge source %q", ErrUnknownNode, e.From))
		}
		if !toOK {
			errs = append(errs, fmt.Errorf("%w: edge target %q", ErrUnknownNode, e.To))
		}
		if !fromOK || !toOK {
			continue
		}
		if fromScope != toScope {
			errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrScopeViolation, e.From, e.To))
			continue
		}
		if e.InScope != "" && e.InScope != fromScope {
			errs = append(errs, fmt.Errorf("%w: edge %s -> %s declared in scope %q", ErrScopeViolation, e.From, e.To, e.InScope))
			continue
		}
		out[e.From] = append(out[e.From], e)
		in[e.To] = append(in[e.To], e)
		edgesByScope[fromScope] = append(edgesByScope[fromScope], e)
	}

	// Branch routing is tag-driven; a case or default tag with no
	// matching outgoing edge would dead-end the run silently, so tags
	// are cross-checked against the branch's edges.
	for _, n := range def.Nodes {
		if n.Type != TypeBranch {
			continue
		}
		carried := make(map[string]bool)
		for _, e := range out[n.ID] {
			if e.Tag != "" {
				carried[e.Tag] = true
			}
		}
		for _, tag := range branchTags(n.Config) {
			if !carried[tag] {
				errs = append(errs, fmt.Errorf("%w: branch %s selects %q", ErrBranchTag, n.ID, tag))
			}
		}
	}

	// Per-scope structural checks: exactly one entry, full reachability,
	// no cycles. Iteration/loop bodies are ordinary acyclic sub-graphs;
	// repetition is bounded re-execution, never a back edge.
	entries := make(map[string]string)
	for scope, ids := range scopeNodes {
		entry, scopeErrs := validateScope(scope, ids, in, out)
		errs = append(errs, scopeErrs...)
		entries[scope] = entry
	}
	if len(scopeNodes[""]) == 0 {
		errs = append(errs, fmt.Errorf("%w: empty graph", ErrNoEntryNode))
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errs: errs}
	}

	g := &Graph{
		specs:      specs,
		out:        out,
		in:         in,
		entry:      entries[""],
		scopeNodes: scopeNodes,
		subgraphs:  make(map[string]*Graph),
		def:        def,
	}

	// Pre-compile body sub-graphs so owners get an immutable Graph of
	// their own.
	for owner := range scopeNodes {
		if owner == "" {
			continue
		}
		sub, err := Compile(g.scopeDefinition(owner))
		if err != nil {
			return nil, err
		}
		g.subgraphs[owner] = sub
	}

	return g, nil
}

// branchTags extracts the case and default tags from a branch node's
// loose config. Malformed shapes are left for the node builder to
// reject at build time.
func branchTags(cfg map[string]any) []string {
	var tags []string
	if cases, ok := cfg["cases"].([]any); ok {
		for _, c := range cases {
			if m, ok := c.(map[string]any); ok {
				if tag, ok := m["tag"].(string); ok && tag != "" {
					tags = append(tags, tag)
				}
			}
		}
	}
	if def, ok := cfg["default"].(string); ok && def != "" {
		tags = append(tags, def)
	}
	return tags
}

// validateScope checks one scope's entry uniqueness, reachability and
// acyclicity. Returns the entry node id when unambiguous.
func validateScope(scope string, ids []string, in, out map[string][]EdgeSpec) (string, []error) {
	var errs []error

	var entries []string
	for _, id := range ids {
		if len(in[id]) == 0 {
			entries = append(entries, id)
		}
	}
	label := scope
	if label == "" {
		label = "graph"
	}
	switch len(entries) {
	case 0:
		if len(ids) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoEntryNode, label))
		}
		return "", errs
	case 1:
	default:
		errs = append(errs, fmt.Errorf("%w: %s has %v", ErrMultipleEntryNodes, label, entries))
		return "", errs
	}
	entry := entries[0]

	// BFS reachability from the entry.
	reached := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range out[cur] {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for _, id := range ids {
		if !reached[id] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnreachableNode, id))
		}
	}

	// Kahn's algorithm; leftover nodes sit on a cycle.
	indeg := make(map[string]int, len(ids))
	for _, id := range ids {
		indeg[id] = len(in[id])
	}
	queue = append(queue[:0], entry)
	seen := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		seen++
		for _, e := range out[cur] {
			indeg[e.To]--
			if indeg[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}
	if seen < len(ids) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrCycle, label))
	}

	return entry, errs
}

// scopeDefinition extracts the definition of one owner's body: directly
// owned nodes are lifted to the sub-graph's top level, transitively owned
// nodes keep their inner scope.
func (g *Graph) scopeDefinition(owner string) Definition {
	owned := make(map[string]bool)
	var collect func(string)
	collect = func(o string) {
		for _, id := range g.scopeNodes[o] {
			owned[id] = true
			if g.scopeNodes[id] != nil {
				collect(id)
			}
		}
	}
	collect(owner)

	var def Definition
	for _, n := range g.def.Nodes {
		if !owned[n.ID] {
			continue
		}
		if n.InScope == owner {
			n.InScope = ""
		}
		def.Nodes = append(def.Nodes, n)
	}
	for _, e := range g.def.Edges {
		if !owned[e.From] || !owned[e.To] {
			continue
		}
		if e.InScope == owner {
			e.InScope = ""
		}
		def.Edges = append(def.Edges, e)
	}
	return def
}

// EntryID returns the entry node of the top-level graph.
func (g *Graph) EntryID() string {
	return g.entry
}

// Spec returns the node spec for id.
func (g *Graph) Spec(id string) (NodeSpec, bool) {
	s, ok := g.specs[id]
	return s, ok
}

// HasNode reports whether a node exists anywhere in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.specs[id]
	return ok
}

// OutEdges returns a node's outgoing edges in declaration order.
func (g *Graph) OutEdges(id string) []EdgeSpec {
	return g.out[id]
}

// InEdges returns a node's inbound edges in declaration order.
func (g *Graph) InEdges(id string) []EdgeSpec {
	return g.in[id]
}

// Successors returns the ids a node's edges lead to, in declaration order.
func (g *Graph) Successors(id string) []string {
	edges := g.out[id]
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

// Predecessors returns the ids with edges into the given node.
func (g *Graph) Predecessors(id string) []string {
	edges := g.in[id]
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.From)
	}
	return out
}

// InScope reports whether a node belongs (directly or transitively) to
// the body owned by the given iteration/loop node.
func (g *Graph) InScope(id, owner string) bool {
	spec, ok := g.specs[id]
	for ok {
		if spec.InScope == owner {
			return true
		}
		if spec.InScope == "" {
			return false
		}
		spec, ok = g.specs[spec.InScope]
	}
	return false
}

// ScopeNodes returns every node id owned (directly or transitively) by
// the given owner, in declaration order.
func (g *Graph) ScopeNodes(owner string) []string {
	var out []string
	for _, id := range g.scopeNodes[owner] {
		out = append(out, id)
		out = append(out, g.ScopeNodes(id)...)
	}
	return out
}

// Scope returns the compiled body sub-graph owned by the given
// iteration/loop node, or false if the node owns none.
func (g *Graph) Scope(owner string) (*Graph, bool) {
	sub, ok := g.subgraphs[owner]
	return sub, ok
}

// NodeIDs returns all top-level node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.scopeNodes[""]...)
}
