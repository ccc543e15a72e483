// Package vars provides the typed variable pool shared by all nodes
// during a workflow run.
package vars

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SegmentType identifies the declared type of a Segment value.
type SegmentType string

// Segment type constants. Integer and float values unify under TypeNumber.
const (
	TypeString  SegmentType = "string"
	TypeNumber  SegmentType = "number"
	TypeBoolean SegmentType = "boolean"
	TypeObject  SegmentType = "object"
	TypeFile    SegmentType = "file"
	TypeNone    SegmentType = "none"

	TypeArrayString  SegmentType = "array[string]"
	TypeArrayNumber  SegmentType = "array[number]"
	TypeArrayBoolean SegmentType = "array[boolean]"
	TypeArrayObject  SegmentType = "array[object]"
	TypeArrayFile    SegmentType = "array[file]"
	TypeArrayAny     SegmentType = "array[any]"
)

// ErrTypeMismatch indicates a declared segment type does not match the
// carried value.
var ErrTypeMismatch = errors.New("segment type mismatch")

// FileRef is an opaque reference to a file produced or consumed by a node.
type FileRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Segment is a single typed value in the variable pool.
// Segments are immutable once constructed.
type Segment struct {
	Type  SegmentType `json:"type"`
	Value any         `json:"value"`
}

// None returns the absent-value segment.
func None() Segment {
	return Segment{Type: TypeNone}
}

// NewString creates a string segment.
func NewString(v string) Segment {
	return Segment{Type: TypeString, Value: v}
}

// NewNumber creates a number segment. All numeric inputs are normalized
// to float64 so that snapshot round-trips compare equal.
func NewNumber[N int | int32 | int64 | float32 | float64](v N) Segment {
	return Segment{Type: TypeNumber, Value: float64(v)}
}

// NewBoolean creates a boolean segment.
func NewBoolean(v bool) Segment {
	return Segment{Type: TypeBoolean, Value: v}
}

// NewObject creates an object segment. Nested numeric values are
// normalized to float64.
func NewObject(v map[string]any) Segment {
	return Segment{Type: TypeObject, Value: normalize(v)}
}

// NewFile creates a file segment.
func NewFile(f FileRef) Segment {
	return Segment{Type: TypeFile, Value: f}
}

// NewArray creates a homogeneous array segment of the given element type.
func NewArray(elem SegmentType, items []any) (Segment, error) {
	at, ok := arrayOf(elem)
	if !ok {
		return None(), fmt.Errorf("%w: %q is not an array element type", ErrTypeMismatch, elem)
	}
	norm := make([]any, len(items))
	for i, it := range items {
		n := normalize(it)
		if elem != "any" {
			if got := inferScalar(n); got != elem {
				return None(), fmt.Errorf("%w: element %d is %s, want %s", ErrTypeMismatch, i, got, elem)
			}
		}
		norm[i] = n
	}
	return Segment{Type: at, Value: norm}, nil
}

// Infer constructs a segment from an arbitrary value, inferring its type.
// nil infers TypeNone; slices infer a homogeneous array type when possible,
// otherwise array[any].
func Infer(v any) (Segment, error) {
	v = normalize(v)
	switch val := v.(type) {
	case nil:
		return None(), nil
	case string:
		return NewString(val), nil
	case float64:
		return Segment{Type: TypeNumber, Value: val}, nil
	case bool:
		return NewBoolean(val), nil
	case map[string]any:
		return Segment{Type: TypeObject, Value: val}, nil
	case FileRef:
		return NewFile(val), nil
	case Segment:
		return val, nil
	case []any:
		return inferArray(val)
	default:
		return None(), fmt.Errorf("%w: unsupported value of type %T", ErrTypeMismatch, v)
	}
}

// Build constructs a segment with an explicitly declared type, validating
// that the value matches. Integer and float both satisfy TypeNumber.
func Build(declared SegmentType, v any) (Segment, error) {
	seg, err := Infer(v)
	if err != nil {
		return None(), err
	}
	if seg.Type == declared {
		return seg, nil
	}
	// An inferred homogeneous array satisfies a declared array[any].
	if declared == TypeArrayAny && strings.HasPrefix(string(seg.Type), "array[") {
		return Segment{Type: TypeArrayAny, Value: seg.Value}, nil
	}
	if declared == TypeNone && seg.Type == TypeNone {
		return seg, nil
	}
	return None(), fmt.Errorf("%w: declared %s, value is %s", ErrTypeMismatch, declared, seg.Type)
}

// IsNone reports whether the segment carries no value.
func (s Segment) IsNone() bool {
	return s.Type == TypeNone
}

// IsArray reports whether the segment is an array type.
func (s Segment) IsArray() bool {
	return strings.HasPrefix(string(s.Type), "array[")
}

// Items returns the elements of an array segment, or nil for other types.
func (s Segment) Items() []any {
	if items, ok := s.Value.([]any); ok && s.IsArray() {
		return items
	}
	return nil
}

// String renders the segment value as text. Used by template expansion
// and answer rendering.
func (s Segment) String() string {
	switch s.Type {
	case TypeNone:
		return ""
	case TypeString:
		return s.Value.(string)
	case TypeNumber:
		return strconv.FormatFloat(s.Value.(float64), 'f', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(s.Value.(bool))
	default:
		b, err := json.Marshal(s.Value)
		if err != nil {
			return fmt.Sprintf("%v", s.Value)
		}
		return string(b)
	}
}

// Float returns the numeric value, or 0 for non-number segments.
func (s Segment) Float() float64 {
	if f, ok := s.Value.(float64); ok {
		return f
	}
	return 0
}

// Bool returns the boolean value, or false for non-boolean segments.
func (s Segment) Bool() bool {
	if b, ok := s.Value.(bool); ok {
		return b
	}
	return false
}

// UnmarshalJSON restores a segment, re-normalizing the value so that a
// round-tripped segment compares equal to the original.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  SegmentType `json:"type"`
		Value any         `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	switch raw.Type {
	case TypeFile:
		f, err := reparseFile(raw.Value)
		if err != nil {
			return err
		}
		s.Value = f
	case TypeArrayFile:
		items, _ := raw.Value.([]any)
		files := make([]any, len(items))
		for i, it := range items {
			f, err := reparseFile(it)
			if err != nil {
				return err
			}
			files[i] = f
		}
		s.Value = files
	default:
		s.Value = normalize(raw.Value)
	}
	return nil
}

func reparseFile(v any) (FileRef, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return FileRef{}, err
	}
	var f FileRef
	if err := json.Unmarshal(b, &f); err != nil {
		return FileRef{}, err
	}
	return f, nil
}

// normalize converts numeric values to float64 recursively so equality
// holds across JSON round-trips.
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case []any:
		out := make([]any, len(val))
		for i, it := range val {
			out[i] = normalize(it)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, it := range val {
			out[i] = it
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, it := range val {
			out[k] = normalize(it)
		}
		return out
	default:
		return v
	}
}

func inferScalar(v any) SegmentType {
	switch v.(type) {
	case string:
		return TypeString
	case float64:
		return TypeNumber
	case bool:
		return TypeBoolean
	case map[string]any:
		return TypeObject
	case FileRef:
		return TypeFile
	default:
		return TypeNone
	}
}

func inferArray(items []any) (Segment, error) {
	if len(items) == 0 {
		return Segment{Type: TypeArrayAny, Value: []any{}}, nil
	}
	elem := inferScalar(items[0])
	for _, it := range items[1:] {
		if inferScalar(it) != elem {
			return Segment{Type: TypeArrayAny, Value: items}, nil
		}
	}
	at, ok := arrayOf(elem)
	if !ok {
		return Segment{Type: TypeArrayAny, Value: items}, nil
	}
	return Segment{Type: at, Value: items}, nil
}

func arrayOf(elem SegmentType) (SegmentType, bool) {
	switch elem {
	case TypeString:
		return TypeArrayString, true
	case TypeNumber:
		return TypeArrayNumber, true
	case TypeBoolean:
		return TypeArrayBoolean, true
	case TypeObject:
		return TypeArrayObject, true
	case TypeFile:
		return TypeArrayFile, true
	case "any":
		return TypeArrayAny, true
	}
	return TypeNone, false
}
