package vars

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Selector addresses a value in the pool: a producer node id, a variable
// name, and an optional field path into the variable's value.
//
// The textual form is "nodeID.name" or "nodeID.name.field.path" where the
// trailing path may use JSONPath child/index syntax (e.g. "items[0].name").
type Selector struct {
	NodeID string
	Name   string
	Path   string
}

// ParseSelector splits a textual selector into its parts.
func ParseSelector(s string) (Selector, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Selector{}, fmt.Errorf("invalid selector %q: want nodeID.name[.path]", s)
	}
	sel := Selector{NodeID: parts[0], Name: parts[1]}
	if len(parts) == 3 {
		sel.Path = parts[2]
	}
	// Index access directly on the variable: "node.items[0]".
	if i := strings.IndexByte(sel.Name, '['); i >= 0 {
		sel.Path = sel.Name[i:] + dotJoin(sel.Path)
		sel.Name = sel.Name[:i]
	}
	return sel, nil
}

func dotJoin(path string) string {
	if path == "" {
		return ""
	}
	return "." + path
}

// String returns the textual form of the selector.
func (s Selector) String() string {
	out := s.NodeID + "." + s.Name
	if s.Path != "" {
		if strings.HasPrefix(s.Path, "[") {
			return out + s.Path
		}
		return out + "." + s.Path
	}
	return out
}

// Resolve looks up the selector in the pool. The boolean reports whether
// the variable (and, when a field path is present, the addressed field)
// exists.
func (s Selector) Resolve(p *Pool) (any, bool) {
	seg, ok := p.Get(s.NodeID, s.Name)
	if !ok {
		return nil, false
	}
	if s.Path == "" {
		return seg.Value, true
	}

	path := s.Path
	if !strings.HasPrefix(path, "[") {
		path = "." + path
	}
	expr, err := jp.ParseString("$" + path)
	if err != nil {
		return nil, false
	}
	results := expr.Get(fileAware(seg.Value))
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// ResolvePath resolves a textual selector against the pool.
func ResolvePath(p *Pool, selector string) (any, bool) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, false
	}
	return sel.Resolve(p)
}

// fileAware widens FileRef values into maps so JSONPath expressions can
// descend into file metadata.
func fileAware(v any) any {
	switch val := v.(type) {
	case FileRef:
		return map[string]any{
			"id": val.ID, "name": val.Name, "mime_type": val.MimeType, "url": val.URL,
		}
	case []any:
		out := make([]any, len(val))
		for i, it := range val {
			out[i] = fileAware(it)
		}
		return out
	default:
		return v
	}
}
