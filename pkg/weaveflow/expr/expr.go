// Package expr evaluates the boolean conditions attached to branch cases
// and loop break rules. Operands are literals or variable selectors
// resolved through a caller-provided lookup.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lookup resolves an identifier to a value. The boolean reports whether
// the identifier is bound.
type Lookup func(name string) (any, bool)

// Evaluate evaluates a boolean condition expression.
// Supports: ==, !=, <, >, <=, >=, "contains", "and", "or", "not"/"!",
// and bare truthiness of a single operand.
func Evaluate(expression string, lookup Lookup) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, nil
	}

	if inner, ok := strings.CutPrefix(expression, "not "); ok {
		result, err := Evaluate(inner, lookup)
		return !result, err
	}
	if inner, ok := strings.CutPrefix(expression, "!"); ok {
		result, err := Evaluate(inner, lookup)
		return !result, err
	}

	if parts := strings.SplitN(expression, " and ", 2); len(parts) == 2 {
		left, err := Evaluate(parts[0], lookup)
		if err != nil {
			return false, err
		}
		right, err := Evaluate(parts[1], lookup)
		if err != nil {
			return false, err
		}
		return left && right, nil
	}

	if parts := strings.SplitN(expression, " or ", 2); len(parts) == 2 {
		left, err := Evaluate(parts[0], lookup)
		if err != nil {
			return false, err
		}
		right, err := Evaluate(parts[1], lookup)
		if err != nil {
			return false, err
		}
		return left || right, nil
	}

	// Longer operators first so ">=" is not split as ">".
	ops := []struct {
		op      string
		compare func(l, r any) bool
	}{
		{"==", func(l, r any) bool { return render(l) == render(r) }},
		{"!=", func(l, r any) bool { return render(l) != render(r) }},
		{">=", func(l, r any) bool { return toFloat(l) >= toFloat(r) }},
		{"<=", func(l, r any) bool { return toFloat(l) <= toFloat(r) }},
		{">", func(l, r any) bool { return toFloat(l) > toFloat(r) }},
		{"<", func(l, r any) bool { return toFloat(l) < toFloat(r) }},
		{" contains ", func(l, r any) bool { return strings.Contains(render(l), render(r)) }},
	}

	for _, op := range ops {
		if parts := strings.SplitN(expression, op.op, 2); len(parts) == 2 {
			left := Resolve(strings.TrimSpace(parts[0]), lookup)
			right := Resolve(strings.TrimSpace(parts[1]), lookup)
			return op.compare(left, right), nil
		}
	}

	return IsTruthy(Resolve(expression, lookup)), nil
}

// Resolve interprets an operand: quoted string, boolean or null literal,
// number, bound identifier, or bare string.
func Resolve(s string, lookup Lookup) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if (strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) ||
		(strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"")) {
		if len(s) < 2 {
			return ""
		}
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	if lookup != nil {
		if val, ok := lookup(s); ok {
			return val
		}
	}

	return s
}

// IsTruthy reports whether a value counts as true: nil is false, bools
// return their value, empty strings and zero numbers are false,
// everything else is true.
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// Render integral floats without a decimal point so that
		// 3 == 3.0 compares equal as strings.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		var f float64
		_, _ = fmt.Sscanf(val, "%f", &f)
		return f
	default:
		return 0
	}
}
