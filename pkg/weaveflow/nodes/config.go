package nodes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/expr"
	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// decodeConfig maps a spec's loose config into a typed struct through a
// JSON round-trip. Unknown keys are ignored; type mismatches error.
func decodeConfig(raw map[string]any, into any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// selectorPattern matches ${node.variable} and ${node.variable.path}
// placeholders in templates.
var selectorPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// templatePart is one piece of a parsed template: either literal text or
// a variable selector.
type templatePart struct {
	literal  string
	selector string
}

// parseTemplate splits a template into literal and selector parts,
// preserving order.
func parseTemplate(tmpl string) []templatePart {
	var parts []templatePart
	last := 0
	for _, m := range selectorPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		if m[0] > last {
			parts = append(parts, templatePart{literal: tmpl[last:m[0]]})
		}
		parts = append(parts, templatePart{selector: strings.TrimSpace(tmpl[m[2]:m[3]])})
		last = m[1]
	}
	if last < len(tmpl) {
		parts = append(parts, templatePart{literal: tmpl[last:]})
	}
	return parts
}

// renderPart resolves one template part against the pool. Unresolvable
// selectors render empty, matching how missing variables are reported
// through Get's boolean rather than an error.
func renderPart(p *vars.Pool, part templatePart) string {
	if part.selector == "" {
		return part.literal
	}
	v, ok := vars.ResolvePath(p, part.selector)
	if !ok {
		return ""
	}
	return formatValue(v)
}

// renderTemplate expands every ${selector} in tmpl against the pool.
func renderTemplate(p *vars.Pool, tmpl string) string {
	var sb strings.Builder
	for _, part := range parseTemplate(tmpl) {
		sb.WriteString(renderPart(p, part))
	}
	return sb.String()
}

// renderValue resolves a config value: strings go through template
// expansion, nested maps and slices are rendered recursively, other
// values pass through.
func renderValue(p *vars.Pool, v any) any {
	switch val := v.(type) {
	case string:
		// A value that is exactly one selector keeps its resolved type.
		if m := selectorPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			if resolved, ok := vars.ResolvePath(p, strings.TrimSpace(m[1])); ok {
				return resolved
			}
			return nil
		}
		return renderTemplate(p, val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = renderValue(p, item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = renderValue(p, item)
		}
		return out
	default:
		return v
	}
}

// formatValue renders an arbitrary value as template text using segment
// rendering rules.
func formatValue(v any) string {
	seg, err := vars.Infer(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return seg.String()
}

// poolLookup adapts the pool into an expression operand lookup:
// identifiers of the form "node.variable[.path]" resolve through the
// pool, anything else is unbound.
func poolLookup(p *vars.Pool) expr.Lookup {
	return func(name string) (any, bool) {
		if !strings.Contains(name, ".") {
			return nil, false
		}
		return vars.ResolvePath(p, name)
	}
}
