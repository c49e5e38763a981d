package common

import (
	"fmt"
	"strings"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

// likeEscape is the escape character used in LIKE patterns. It avoids the
// backslash, whose meaning inside string literals differs between backends.
const likeEscape = "!"

// Predicate is a translated WHERE clause (without the keyword) and its
// bind arguments. An empty SQL matches every row.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// binder accumulates bind arguments and renders their placeholders.
type binder struct {
	d    *Dialect
	args []interface{}
}

func (b *binder) bind(v interface{}) (string, error) {
	enc, err := EncodeValue(v)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, enc)
	return b.d.placeholder(len(b.args)), nil
}

// Translate converts a validated condition tree into a Predicate.
func (d *Dialect) Translate(node *condition.Node) (Predicate, error) {
	b := &binder{d: d}
	sql, err := b.where(node)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{SQL: sql, Args: b.args}, nil
}

func (b *binder) where(node *condition.Node) (string, error) {
	if node == nil {
		return "", nil
	}
	switch node.Kind {
	case condition.KindLeaf:
		return b.leaf(node)
	case condition.KindAnd, condition.KindOr:
		joiner := " AND "
		if node.Kind == condition.KindOr {
			joiner = " OR "
		}
		parts := make([]string, 0, len(node.Children))
		for _, child := range node.Children {
			sql, err := b.where(child)
			if err != nil {
				return "", err
			}
			if sql != "" {
				parts = append(parts, sql)
			}
		}
		switch len(parts) {
		case 0:
			return "", nil
		case 1:
			return parts[0], nil
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}
	return "", fmt.Errorf("%w: unknown node kind %s", adapter.ErrInvalidQuery, node.Kind)
}

func (b *binder) leaf(n *condition.Node) (string, error) {
	if err := adapter.ValidateIdentifier(n.Field); err != nil {
		return "", fmt.Errorf("%w: %v", adapter.ErrInvalidQuery, err)
	}
	col := b.d.Quote(n.Field)

	switch n.Operator {
	case condition.Eq:
		if n.Value == nil {
			return col + " IS NULL", nil
		}
		return b.compare(col, "=", n.Value)
	case condition.Ne:
		if n.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return b.compare(col, "<>", n.Value)
	case condition.Gt:
		return b.compare(col, ">", n.Value)
	case condition.Gte:
		return b.compare(col, ">=", n.Value)
	case condition.Lt:
		return b.compare(col, "<", n.Value)
	case condition.Lte:
		return b.compare(col, "<=", n.Value)
	case condition.Contains:
		return b.like(col, "%"+escapeLike(n.Value)+"%")
	case condition.StartsWith:
		return b.like(col, escapeLike(n.Value)+"%")
	case condition.EndsWith:
		return b.like(col, "%"+escapeLike(n.Value))
	case condition.In, condition.NotIn:
		return b.membership(col, n)
	case condition.Regex:
		return b.compare(col, b.d.RegexOperator, n.Value)
	case condition.Exists, condition.IsNotNull:
		return col + " IS NOT NULL", nil
	case condition.IsNull:
		return col + " IS NULL", nil
	}
	return "", adapter.NewUnsupportedOperationError(b.d.Type, "operator "+string(n.Operator), "")
}

func (b *binder) compare(col, op string, v interface{}) (string, error) {
	ph, err := b.bind(v)
	if err != nil {
		return "", err
	}
	return col + " " + op + " " + ph, nil
}

func (b *binder) like(col, pattern string) (string, error) {
	ph, err := b.bind(pattern)
	if err != nil {
		return "", err
	}
	return col + " LIKE " + ph + " ESCAPE '" + likeEscape + "'", nil
}

func (b *binder) membership(col string, n *condition.Node) (string, error) {
	items, _ := n.Value.([]interface{})
	if len(items) == 0 {
		if n.Operator == condition.In {
			return "1=0", nil
		}
		return "1=1", nil
	}
	phs := make([]string, len(items))
	for i, item := range items {
		ph, err := b.bind(item)
		if err != nil {
			return "", err
		}
		phs[i] = ph
	}
	op := " IN ("
	if n.Operator == condition.NotIn {
		op = " NOT IN ("
	}
	return col + op + strings.Join(phs, ", ") + ")", nil
}

func escapeLike(v interface{}) string {
	s, _ := v.(string)
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}
