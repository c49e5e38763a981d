package mongodb

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

const primaryKey = "_id"

// fieldName maps the portable primary key onto _id.
func fieldName(field string) string {
	if field == adapter.IDField {
		return primaryKey
	}
	return field
}

// Translate converts a validated condition tree into a BSON filter. A nil
// condition yields an empty filter.
func Translate(node *condition.Node) (bson.D, error) {
	if node == nil {
		return bson.D{}, nil
	}
	switch node.Kind {
	case condition.KindAnd, condition.KindOr:
		op := "$and"
		if node.Kind == condition.KindOr {
			op = "$or"
		}
		parts := make(bson.A, 0, len(node.Children))
		for _, child := range node.Children {
			doc, err := Translate(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, doc)
		}
		if len(parts) == 0 {
			return bson.D{}, nil
		}
		return bson.D{{Key: op, Value: parts}}, nil
	case condition.KindLeaf:
		expr, err := leaf(node)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: fieldName(node.Field), Value: expr}}, nil
	}
	return nil, fmt.Errorf("%w: unknown node kind %d", adapter.ErrInvalidQuery, node.Kind)
}

func leaf(n *condition.Node) (bson.D, error) {
	op := func(name string, v interface{}) bson.D {
		return bson.D{{Key: name, Value: v}}
	}
	switch n.Operator {
	case condition.Eq:
		return op("$eq", n.Value), nil
	case condition.Ne:
		return op("$ne", n.Value), nil
	case condition.Gt:
		return op("$gt", n.Value), nil
	case condition.Gte:
		return op("$gte", n.Value), nil
	case condition.Lt:
		return op("$lt", n.Value), nil
	case condition.Lte:
		return op("$lte", n.Value), nil
	case condition.Contains:
		return op("$regex", regexp.QuoteMeta(fmt.Sprint(n.Value))), nil
	case condition.StartsWith:
		return op("$regex", "^"+regexp.QuoteMeta(fmt.Sprint(n.Value))), nil
	case condition.EndsWith:
		return op("$regex", regexp.QuoteMeta(fmt.Sprint(n.Value))+"$"), nil
	case condition.Regex:
		return op("$regex", fmt.Sprint(n.Value)), nil
	case condition.In:
		return op("$in", toArray(n.Value)), nil
	case condition.NotIn:
		return op("$nin", toArray(n.Value)), nil
	case condition.Exists:
		return op("$exists", true), nil
	case condition.IsNull:
		return op("$eq", nil), nil
	case condition.IsNotNull:
		return op("$ne", nil), nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", adapter.ErrInvalidQuery, n.Operator)
}

func toArray(v interface{}) bson.A {
	items, _ := v.([]interface{})
	out := make(bson.A, len(items))
	copy(out, items)
	return out
}

// idFilter matches a primary key. A hex string also matches the ObjectID it
// encodes, so documents written by other tools are found by their hex id.
func idFilter(id interface{}) bson.D {
	if s, ok := id.(string); ok {
		if oid, err := bson.ObjectIDFromHex(s); err == nil {
			return bson.D{{Key: primaryKey, Value: bson.D{{Key: "$in", Value: bson.A{s, oid}}}}}
		}
	}
	return bson.D{{Key: primaryKey, Value: id}}
}
