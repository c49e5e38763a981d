package common

import (
	"bytes"
	"reflect"
	"time"

	"github.com/goccy/go-json"
)

// EncodeValue converts a record value into something every database/sql
// driver accepts. Lists and maps are stored as JSON text.
func EncodeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64, time.Time, []byte:
		return v, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		return val.Float64()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return EncodeValue(rv.Elem().Interface())
	}
	return v, nil
}

// DecodeValue normalises a value read from a driver. typeName is the
// column's database type name when known.
func (d *Dialect) DecodeValue(typeName string, v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if d.isJSONType(typeName) {
			return decodeJSON(val)
		}
		return string(val)
	case string:
		if d.isJSONType(typeName) {
			return decodeJSON([]byte(val))
		}
		return val
	case int64:
		if d.isBoolType(typeName) {
			return val != 0
		}
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		if d.isBoolType(typeName) {
			return val != 0
		}
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return float64(val)
	case map[string]interface{}:
		return NormalizeJSON(val)
	case []interface{}:
		return NormalizeJSON(val)
	}
	return v
}

func decodeJSON(data []byte) interface{} {
	var out interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return string(data)
	}
	return NormalizeJSON(out)
}

// NormalizeJSON converts json.Number leaves to int64 or float64 so decoded
// documents compare equal to the values that were written.
func NormalizeJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case float64:
		if val == float64(int64(val)) && val < 1<<53 && val > -(1<<53) {
			return int64(val)
		}
		return val
	case map[string]interface{}:
		for k, item := range val {
			val[k] = NormalizeJSON(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = NormalizeJSON(item)
		}
		return val
	}
	return v
}
