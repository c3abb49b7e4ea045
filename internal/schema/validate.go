package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FieldError names one offending value by its path, e.g. "values[0][1]".
type FieldError struct {
	Path    string
	Message string
}

func (e FieldError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// FieldErrors is a list of offending fields reported together.
type FieldErrors []FieldError

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, e := range f {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}

// Paths lists the offending field paths in report order.
func (f FieldErrors) Paths() []string {
	out := make([]string, 0, len(f))
	for _, e := range f {
		out = append(out, e.Path)
	}
	return out
}

// Validate checks decoded JSON arguments against an object schema. Values are
// never coerced: "3" is not an integer and 3.5 is not an integer either.
// Fields the schema does not declare are rejected.
func Validate(node *Node, args any) FieldErrors {
	if node == nil {
		return nil
	}
	w := &walker{rejectUndeclared: true}
	w.walk(node, args, "")
	return w.errs
}

// Shape checks a provider response against its schema and returns the value
// to hand to the model. With strict set, fields the schema does not declare
// are removed at every level.
func Shape(resp ResponseSchema, value any) (any, FieldErrors) {
	if resp.Node == nil {
		return value, nil
	}
	w := &walker{strip: resp.Strict}
	out := w.walk(resp.Node, value, "")
	if len(w.errs) > 0 {
		return nil, w.errs
	}
	return out, nil
}

type walker struct {
	strip            bool
	rejectUndeclared bool
	errs             FieldErrors
}

func (w *walker) fail(path, format string, args ...any) {
	w.errs = append(w.errs, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (w *walker) walk(n *Node, v any, path string) any {
	switch n.Kind {
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			w.fail(path, "must be an object")
			return nil
		}
		return w.walkObject(n, obj, path)
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			w.fail(path, "must be an array")
			return nil
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = w.walk(n.Items, item, path+"["+strconv.Itoa(i)+"]")
		}
		return out
	case KindString:
		s, ok := v.(string)
		if !ok {
			w.fail(path, "must be a string")
			return nil
		}
		if len(n.Enum) > 0 && !contains(n.Enum, s) {
			w.fail(path, "must be one of %s", strings.Join(n.Enum, ", "))
		}
		return s
	case KindNumber:
		if _, ok := number(v); !ok {
			w.fail(path, "must be a number")
			return nil
		}
		return v
	case KindInteger:
		f, ok := number(v)
		if !ok || math.Trunc(f) != f || math.IsInf(f, 0) {
			w.fail(path, "must be an integer")
			return nil
		}
		return v
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			w.fail(path, "must be a boolean")
			return nil
		}
		return v
	default:
		w.fail(path, "has unsupported schema type %q", n.Kind)
		return nil
	}
}

func (w *walker) walkObject(n *Node, obj map[string]any, path string) map[string]any {
	out := make(map[string]any, len(obj))
	for _, p := range n.Properties {
		fieldPath := joinField(path, p.Name)
		val, present := obj[p.Name]
		if !present || val == nil {
			if n.isRequired(p.Name) {
				w.fail(fieldPath, "is required")
			}
			continue
		}
		out[p.Name] = w.walk(p.Node, val, fieldPath)
	}

	var undeclared []string
	for name := range obj {
		if _, ok := n.Property(name); !ok {
			undeclared = append(undeclared, name)
		}
	}
	sort.Strings(undeclared)
	for _, name := range undeclared {
		switch {
		case w.rejectUndeclared:
			w.fail(joinField(path, name), "is not a declared field")
		case !w.strip:
			out[name] = obj[name]
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
