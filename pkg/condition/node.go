// Package condition implements the query predicate model shared by every
// backend: a small tree of leaf comparisons combined with And/Or groups.
//
// Callers rarely build trees by hand. Normalize accepts the loose shapes used
// at the API boundary (a single leaf object, an array of leaves, a flat
// field/value map, per-field operator maps and explicit groups) and reduces
// them to one canonical tree, so two inputs that mean the same thing compare
// equal and produce the same cache key.
package condition

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes leaves from groups.
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindOr
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	default:
		return "unknown"
	}
}

// Node is either a leaf comparison or an And/Or group of child nodes.
// A nil *Node matches everything.
type Node struct {
	Kind     Kind
	Field    string
	Operator Operator
	Value    interface{}
	Children []*Node
}

// Leaf builds an unvalidated leaf node.
func Leaf(field string, op Operator, value interface{}) *Node {
	return &Node{Kind: KindLeaf, Field: field, Operator: op, Value: value}
}

// And builds an unvalidated conjunction.
func And(children ...*Node) *Node {
	return &Node{Kind: KindAnd, Children: children}
}

// Or builds an unvalidated disjunction.
func Or(children ...*Node) *Node {
	return &Node{Kind: KindOr, Children: children}
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n != nil && n.Kind == KindLeaf
}

// Fields returns the distinct field names referenced by the tree, sorted.
func (n *Node) Fields() []string {
	seen := make(map[string]struct{})
	n.Walk(func(leaf *Node) {
		seen[leaf.Field] = struct{}{}
	})
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Walk calls fn for every leaf in depth-first order.
func (n *Node) Walk(fn func(leaf *Node)) {
	if n == nil {
		return
	}
	if n.Kind == KindLeaf {
		fn(n)
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Key returns a deterministic textual encoding of the tree. Structurally equal
// trees always produce the same key; the empty string stands for nil.
func (n *Node) Key() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.writeKey(&b)
	return b.String()
}

// String is an alias for Key, for logging.
func (n *Node) String() string {
	return n.Key()
}

func (n *Node) writeKey(b *strings.Builder) {
	switch n.Kind {
	case KindLeaf:
		b.WriteString(strconv.Quote(n.Field))
		b.WriteByte(' ')
		b.WriteString(string(n.Operator))
		b.WriteByte(' ')
		writeValue(b, n.Value)
	default:
		b.WriteString(n.Kind.String())
		b.WriteByte('(')
		for i, child := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			child.writeKey(b)
		}
		b.WriteByte(')')
	}
}

func writeValue(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(val))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString("u:")
		b.WriteString(strconv.FormatUint(val, 10))
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(val))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(val.UTC().Format(time.RFC3339Nano))
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	default:
		b.WriteString("?:")
		b.WriteString(strconv.Quote(stringify(val)))
	}
}
