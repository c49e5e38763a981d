package condition

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// maxSafeInteger bounds the floats that are folded into int64 so that the
// conversion is exact.
const maxSafeInteger = 1 << 53

type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// Parse decodes JSON text in any accepted shape and normalizes it.
func Parse(data []byte) (*Node, error) {
	return Normalize(data)
}

// Normalize converts a condition in any accepted shape into a validated,
// canonical tree. The accepted shapes are:
//
//   - a leaf object: {"field": "age", "operator": "Gt", "value": 3}
//   - an array of shapes, combined with And
//   - a flat map: {"name": "A", "age": 3}, one Eq leaf per key
//   - a per-field operator map: {"age": {"Gt": 3, "Lt": 9}}
//   - an explicit group: {"operator": "or", "conditions": [...]}
//   - a *Node or Node built in code
//   - JSON text ([]byte or string) holding any of the above
//
// A nil result with a nil error means "no condition".
func Normalize(input interface{}) (*Node, error) {
	node, err := build(input)
	if err != nil {
		return nil, err
	}
	return canonicalize(node)
}

// MustNormalize is like Normalize but panics on error. Intended for tests and
// static conditions.
func MustNormalize(input interface{}) *Node {
	n, err := Normalize(input)
	if err != nil {
		panic(err)
	}
	return n
}

func build(input interface{}) (*Node, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case *Node:
		return cloneNode(v), nil
	case Node:
		return cloneNode(&v), nil
	case []*Node:
		children := make([]*Node, 0, len(v))
		for _, c := range v {
			children = append(children, cloneNode(c))
		}
		return And(children...), nil
	case string:
		return buildJSON([]byte(v))
	case []byte:
		return buildJSON(v)
	case json.RawMessage:
		return buildJSON(v)
	case map[string]interface{}:
		return buildMap(v)
	case []interface{}:
		return buildList(v)
	case []map[string]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return buildList(items)
	}

	rv := reflect.ValueOf(input)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, malformed("condition maps must have string keys, got %s", rv.Type())
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return buildMap(m)
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
		return buildList(items)
	}

	return nil, malformed("unsupported condition type %T", input)
}

func buildJSON(data []byte) (*Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	return build(raw)
}

func buildList(items []interface{}) (*Node, error) {
	children := make([]*Node, 0, len(items))
	for i, item := range items {
		child, err := build(item)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, malformed("element %d of condition array is empty", i)
		}
		children = append(children, child)
	}
	return And(children...), nil
}

func buildMap(m map[string]interface{}) (*Node, error) {
	if _, ok := m["conditions"]; ok {
		return buildGroup(m)
	}
	_, hasField := m["field"]
	_, hasOperator := m["operator"]
	if hasField && hasOperator {
		return buildLeaf(m)
	}
	return buildFlat(m)
}

func buildGroup(m map[string]interface{}) (*Node, error) {
	for key := range m {
		if key != "conditions" && key != "operator" {
			return nil, malformed("unexpected key '%s' in condition group", key)
		}
	}

	kind := KindAnd
	if raw, ok := m["operator"]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, malformed("group operator must be a string, got %T", raw)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "and":
			kind = KindAnd
		case "or":
			kind = KindOr
		default:
			return nil, malformed("unknown group operator '%s'", name)
		}
	}

	items, ok := asList(m["conditions"])
	if !ok {
		return nil, malformed("group conditions must be an array, got %T", m["conditions"])
	}
	if kind == KindOr && len(items) == 0 {
		return nil, malformed("or group needs at least one condition")
	}

	children := make([]*Node, 0, len(items))
	for i, item := range items {
		child, err := build(item)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, malformed("condition %d of %s group is empty", i, kind)
		}
		children = append(children, child)
	}
	return &Node{Kind: kind, Children: children}, nil
}

func buildLeaf(m map[string]interface{}) (*Node, error) {
	for key := range m {
		if key != "field" && key != "operator" && key != "value" {
			return nil, malformed("unexpected key '%s' in leaf condition", key)
		}
	}

	field, ok := m["field"].(string)
	if !ok {
		return nil, malformed("leaf field must be a string, got %T", m["field"])
	}
	name, ok := m["operator"].(string)
	if !ok {
		return nil, malformed("leaf operator must be a string, got %T", m["operator"])
	}
	op, ok := ParseOperator(name)
	if !ok {
		return nil, malformed("unknown operator '%s' on field '%s'", name, field)
	}
	return Leaf(field, op, m["value"]), nil
}

func buildFlat(m map[string]interface{}) (*Node, error) {
	if len(m) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]*Node, 0, len(keys))
	for _, field := range keys {
		value := m[field]
		if ops, ok := operatorMap(value); ok {
			names := make([]string, 0, len(ops))
			for name := range ops {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				op, _ := ParseOperator(name)
				children = append(children, Leaf(field, op, ops[name]))
			}
			continue
		}
		children = append(children, Leaf(field, Eq, value))
	}
	return And(children...), nil
}

// operatorMap reports whether v is a non-empty map whose keys are all operator names.
func operatorMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if _, ok := ParseOperator(key); !ok {
			return nil, false
		}
	}
	return m, true
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Field: n.Field, Operator: n.Operator, Value: n.Value}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = cloneNode(c)
		}
	}
	return out
}

func canonicalize(n *Node) (*Node, error) {
	if n == nil {
		return nil, nil
	}

	switch n.Kind {
	case KindLeaf:
		if err := validateLeaf(n); err != nil {
			return nil, err
		}
		return n, nil
	case KindAnd, KindOr:
	default:
		return nil, malformed("unknown node kind %d", n.Kind)
	}

	children := make([]*Node, 0, len(n.Children))
	matchesAll := false
	for _, child := range n.Children {
		c, err := canonicalize(child)
		if err != nil {
			return nil, err
		}
		if c == nil {
			// An empty branch matches everything: neutral in And, absorbing in Or.
			matchesAll = true
			continue
		}
		// Nested groups of the same kind are associative; lift their children.
		if c.Kind == n.Kind {
			children = append(children, c.Children...)
			continue
		}
		children = append(children, c)
	}

	if n.Kind == KindOr && matchesAll {
		return nil, nil
	}

	switch len(children) {
	case 0:
		if n.Kind == KindOr {
			return nil, malformed("or group needs at least one condition")
		}
		return nil, nil
	case 1:
		return children[0], nil
	}

	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Key() < children[j].Key()
	})
	return &Node{Kind: n.Kind, Children: children}, nil
}

func validateLeaf(n *Node) error {
	if strings.TrimSpace(n.Field) == "" {
		return malformed("leaf condition has an empty field name")
	}

	op, ok := ParseOperator(string(n.Operator))
	if !ok {
		return malformed("unknown operator '%s' on field '%s'", n.Operator, n.Field)
	}
	n.Operator = op

	value, err := normalizeValue(n.Value)
	if err != nil {
		return invalidOperator(n.Field, op, "%v", err)
	}

	switch {
	case op.IsNullary():
		if value != nil && value != true {
			return invalidOperator(n.Field, op, "operator takes no value, got %T", value)
		}
		value = nil
	case op.IsMembership():
		items, ok := value.([]interface{})
		if !ok {
			return invalidOperator(n.Field, op, "operator requires a list value, got %s", typeName(value))
		}
		for _, item := range items {
			if _, nested := item.([]interface{}); nested {
				return invalidOperator(n.Field, op, "list elements must be scalars")
			}
		}
	case op.IsStringMatch():
		if _, ok := value.(string); !ok {
			return invalidOperator(n.Field, op, "operator requires a string value, got %s", typeName(value))
		}
	case op.IsOrdering():
		switch value.(type) {
		case int64, uint64, float64, string, time.Time:
		default:
			return invalidOperator(n.Field, op, "operator requires a number, string or time, got %s", typeName(value))
		}
	default:
		if _, ok := value.([]interface{}); ok {
			return invalidOperator(n.Field, op, "operator requires a scalar value, got a list")
		}
	}

	n.Value = value
	return nil
}

// normalizeValue folds the many Go representations of a value into a small
// canonical set: nil, bool, int64, uint64, float64, string, time.Time and
// []interface{} of those.
func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64:
		return val, nil
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return normalizeUint(uint64(val)), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return normalizeUint(val), nil
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return normalizeFloat(f)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, fmt.Errorf("binary values cannot be compared")
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := normalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Map, reflect.Struct:
		return nil, fmt.Errorf("nested objects cannot be compared")
	}

	return nil, fmt.Errorf("unsupported value type %T", v)
}

func normalizeUint(u uint64) interface{} {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

func normalizeFloat(f float64) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
		return int64(f), nil
	}
	return f, nil
}

func asList(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out, true
	case []*Node:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out, true
	}
	return nil, false
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "list"
	case int64, uint64, float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Time:
		return "time"
	}
	return fmt.Sprintf("%T", v)
}

func stringify(v interface{}) string {
	return fmt.Sprint(v)
}
