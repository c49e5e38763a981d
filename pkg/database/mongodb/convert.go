package mongodb

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/redbco/quickdb/pkg/adapter"
)

// toDocument converts a record into a BSON document with the primary key
// stored as _id. Keys are sorted so the stored field order is stable.
func toDocument(rec adapter.Record) bson.D {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		v := rec[k]
		if k == adapter.IDField {
			if v == nil {
				continue
			}
			k = primaryKey
		}
		doc = append(doc, bson.E{Key: k, Value: toBSONValue(v)})
	}
	return doc
}

func toBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case map[string]interface{}:
		doc := make(bson.D, 0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: toBSONValue(val[k])})
		}
		return doc
	case []interface{}:
		arr := make(bson.A, len(val))
		for i, item := range val {
			arr[i] = toBSONValue(item)
		}
		return arr
	}
	return v
}

// fromDocument converts a decoded document into a record, renaming _id.
func fromDocument(doc bson.M) adapter.Record {
	rec := make(adapter.Record, len(doc))
	for k, v := range doc {
		if k == primaryKey {
			k = adapter.IDField
		}
		rec[k] = fromBSONValue(v)
	}
	return rec
}

// fromBSONValue converts BSON types to standard Go types.
func fromBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case int32:
		return int64(val)
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		return val.Data
	case bson.D:
		m := make(map[string]interface{}, len(val))
		for _, elem := range val {
			m[elem.Key] = fromBSONValue(elem.Value)
		}
		return m
	case bson.M:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = fromBSONValue(item)
		}
		return m
	case map[string]interface{}:
		for k, item := range val {
			val[k] = fromBSONValue(item)
		}
		return val
	case bson.A:
		arr := make([]interface{}, len(val))
		for i, item := range val {
			arr[i] = fromBSONValue(item)
		}
		return arr
	case []interface{}:
		for i, item := range val {
			val[i] = fromBSONValue(item)
		}
		return val
	}
	return v
}

// patchDocument builds a $set update from patch.
func patchDocument(patch adapter.Record) bson.D {
	return bson.D{{Key: "$set", Value: toDocument(patch)}}
}
