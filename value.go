package toolweave

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
	// KindReference is a deferred ${taskId.field} placeholder.
	KindReference
	// KindExpression is an arithmetic/logical expression over references, e.g. "$t1.count * 2".
	KindExpression
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindReference:
		return "reference"
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

// maxValueDepth bounds nesting; deeper structures are treated as self-referential.
const maxValueDepth = 64

// Reference points at a field produced by another SubTask.
type Reference struct {
	TaskID string `json:"taskId"`
	Field  string `json:"field"`
	// Raw is the literal placeholder text as written.
	Raw string `json:"raw,omitempty"`
	// Fallback is substituted when the field cannot be found in the task's result.
	Fallback string `json:"fallback,omitempty"`
}

// Placeholder renders the reference in ${taskId.field} form.
func (r Reference) Placeholder() string {
	if r.Raw != "" {
		return r.Raw
	}
	return "${" + r.TaskID + "." + r.Field + "}"
}

// Value is the tagged union used for parameters and metadata.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
	ref  Reference
}

// Params maps parameter or metadata names to values.
type Params map[string]Value

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Int(n int) Value { return Value{kind: KindNumber, num: float64(n)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

// Ref builds a deferred reference to taskID's output field.
func Ref(taskID, field string) Value {
	return Value{kind: KindReference, ref: Reference{TaskID: taskID, Field: field}}
}

// RefOr builds a reference that resolves to fallback when the field is missing.
func RefOr(taskID, field, fallback string) Value {
	return Value{kind: KindReference, ref: Reference{TaskID: taskID, Field: field, Fallback: fallback}}
}

// Expr builds an expression value evaluated once its referenced tasks complete.
func Expr(expression string) Value {
	return Value{kind: KindExpression, str: expression}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsDeferred() bool {
	switch v.kind {
	case KindReference, KindExpression:
		return true
	case KindList:
		for _, item := range v.list {
			if item.IsDeferred() {
				return true
			}
		}
	case KindMap:
		for _, item := range v.m {
			if item.IsDeferred() {
				return true
			}
		}
	}
	return false
}

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}
func (v Value) AsReference() (Reference, bool) { return v.ref, v.kind == KindReference }
func (v Value) AsExpression() (string, bool) { return v.str, v.kind == KindExpression }

// Text renders scalar values as plain text; composite values render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString, KindExpression:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindReference:
		return v.ref.Placeholder()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(b)
	}
}

func (v Value) String() string { return v.Text() }

// Interface converts the value back into plain Go data.
func (v Value) Interface() any {
	switch v.kind {
	case KindString, KindExpression:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindReference:
		return v.ref.Placeholder()
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindExpression:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindReference:
		return v.ref.TaskID == o.ref.TaskID && v.ref.Field == o.ref.Field
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Size estimates the encoded size in bytes. Self-referential or over-deep
// structures return an error.
func (v Value) Size() (int, error) {
	return v.size(0, map[uintptr]bool{})
}

func (v Value) size(depth int, seen map[uintptr]bool) (int, error) {
	if depth > maxValueDepth {
		return 0, fmt.Errorf("value nesting exceeds %d levels", maxValueDepth)
	}
	switch v.kind {
	case KindNull:
		return 4, nil
	case KindString, KindExpression:
		return len(v.str) + 2, nil
	case KindNumber:
		return 8, nil
	case KindBool:
		return 5, nil
	case KindReference:
		return len(v.ref.TaskID) + len(v.ref.Field) + 4, nil
	case KindList:
		if len(v.list) > 0 {
			ptr := reflect.ValueOf(v.list).Pointer()
			if seen[ptr] {
				return 0, fmt.Errorf("self-referential list")
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		total := 2
		for _, item := range v.list {
			n, err := item.size(depth+1, seen)
			if err != nil {
				return 0, err
			}
			total += n + 1
		}
		return total, nil
	case KindMap:
		if v.m != nil {
			ptr := reflect.ValueOf(v.m).Pointer()
			if seen[ptr] {
				return 0, fmt.Errorf("self-referential map")
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		total := 2
		for k, item := range v.m {
			n, err := item.size(depth+1, seen)
			if err != nil {
				return 0, err
			}
			total += len(k) + 3 + n
		}
		return total, nil
	}
	return 0, nil
}

type jsonRef struct {
	Ref  *Reference `json:"$ref,omitempty"`
	Expr string     `json:"$expr,omitempty"`
}

// MarshalJSON encodes scalars and composites naturally; references and
// expressions use {"$ref": {...}} and {"$expr": "..."}.
func (v Value) MarshalJSON() ([]byte, error) {
	if _, err := v.Size(); err != nil {
		return nil, err
	}
	switch v.kind {
	case KindReference:
		ref := v.ref
		return json.Marshal(jsonRef{Ref: &ref})
	case KindExpression:
		return json.Marshal(jsonRef{Expr: v.str})
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ParseValue(raw)
	return nil
}

var placeholderPattern = regexp.MustCompile(`^\$\{([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-]+)\}$`)

// ParseValue converts plain Go data (as produced by JSON or YAML decoders)
// into a Value. Strings of the form ${taskId.field} become references, as do
// {"$ref": "taskId.field"} and {"$ref": {"taskId": ..., "field": ...}}.
func ParseValue(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		if m := placeholderPattern.FindStringSubmatch(x); m != nil {
			return Value{kind: KindReference, ref: Reference{TaskID: m[1], Field: m[2], Raw: x}}
		}
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = ParseValue(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...)
	case map[string]any:
		if target, ok := x["$ref"]; ok && len(x) == 1 {
			if ref, ok := parseRefTarget(target); ok {
				return Value{kind: KindReference, ref: ref}
			}
		}
		if expr, ok := x["$expr"].(string); ok && len(x) == 1 {
			return Expr(expr)
		}
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = ParseValue(item)
		}
		return Map(m)
	default:
		return String(fmt.Sprint(x))
	}
}

var refTargetPattern = regexp.MustCompile(`^([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-]+)$`)

// parseRefTarget reads the body of a {"$ref": ...} map: either "task.field"
// or an object with taskId and field. Anything else is left as a plain map.
func parseRefTarget(target any) (Reference, bool) {
	switch t := target.(type) {
	case string:
		if m := refTargetPattern.FindStringSubmatch(t); m != nil {
			return Reference{TaskID: m[1], Field: m[2]}, true
		}
	case map[string]any:
		taskID, _ := t["taskId"].(string)
		field, _ := t["field"].(string)
		if taskID == "" || field == "" {
			return Reference{}, false
		}
		raw, _ := t["raw"].(string)
		fallback, _ := t["fallback"].(string)
		return Reference{TaskID: taskID, Field: field, Raw: raw, Fallback: fallback}, true
	}
	return Reference{}, false
}

// ParseParams converts a plain map into Params.
func ParseParams(raw map[string]any) Params {
	out := make(Params, len(raw))
	for k, v := range raw {
		out[k] = ParseValue(v)
	}
	return out
}

// Get returns the named value or Null.
func (p Params) Get(name string) Value {
	if p == nil {
		return Null()
	}
	return p[name]
}

// GetString returns the named value when it is a string.
func (p Params) GetString(name string) (string, bool) {
	return p.Get(name).AsString()
}

// Clone copies the value, including nested lists and maps.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		if v.list == nil {
			return v
		}
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		v.list = items
	case KindMap:
		if v.m == nil {
			return v
		}
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		v.m = m
	}
	return v
}

// DeepClone copies every value, nested lists and maps included. A nil
// Params stays nil.
func (p Params) DeepClone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size sums the sizes of every value.
func (p Params) Size() (int, error) {
	total := 0
	for k, v := range p {
		n, err := v.Size()
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", k, err)
		}
		total += len(k) + n
	}
	return total, nil
}

// References lists every Reference contained in the parameters, including
// those nested in lists, maps and expressions.
func (p Params) References() []Reference {
	var out []Reference
	for _, k := range p.Keys() {
		out = append(out, collectReferences(p[k])...)
	}
	return out
}

var exprRefPattern = regexp.MustCompile(`\$([A-Za-z0-9_\-]+)\.([A-Za-z0-9_]+)`)

func collectReferences(v Value) []Reference {
	switch v.kind {
	case KindReference:
		return []Reference{v.ref}
	case KindExpression:
		var out []Reference
		for _, m := range exprRefPattern.FindAllStringSubmatch(v.str, -1) {
			out = append(out, Reference{TaskID: m[1], Field: m[2]})
		}
		return out
	case KindList:
		var out []Reference
		for _, item := range v.list {
			out = append(out, collectReferences(item)...)
		}
		return out
	case KindMap:
		var out []Reference
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, collectReferences(v.m[k])...)
		}
		return out
	}
	return nil
}

// Canonical renders params deterministically for cache keys.
func (p Params) Canonical() string {
	var sb strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p[k].Text())
	}
	return sb.String()
}
