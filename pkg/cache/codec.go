package cache

import (
	"bytes"
	"encoding/base64"
	"time"

	"github.com/goccy/go-json"

	"github.com/redbco/quickdb/pkg/adapter"
)

// Values that JSON cannot represent natively are wrapped in a single-key
// object so that they decode to the same Go type.
const (
	tagDate   = "$date"
	tagBinary = "$binary"
)

type payload struct {
	Records []adapter.Record `json:"records,omitempty"`
	Record  adapter.Record   `json:"record,omitempty"`
	ID      interface{}      `json:"id,omitempty"`
	IDs     []interface{}    `json:"ids,omitempty"`
	Count   int64            `json:"count,omitempty"`
	Exists  bool             `json:"exists,omitempty"`
	// Found distinguishes a cached "absent" FindByID from a missing entry.
	Found bool `json:"found,omitempty"`
}

// Encode serializes a read result.
func Encode(res *adapter.Result) ([]byte, error) {
	p := payload{
		ID:     tagValue(res.ID),
		Count:  res.Count,
		Exists: res.Exists,
		Found:  res.Record != nil,
	}
	if res.Records != nil {
		p.Records = make([]adapter.Record, len(res.Records))
		for i, rec := range res.Records {
			p.Records[i] = tagRecord(rec)
		}
	}
	if res.Record != nil {
		p.Record = tagRecord(res.Record)
	}
	if res.IDs != nil {
		p.IDs = make([]interface{}, len(res.IDs))
		for i, id := range res.IDs {
			p.IDs[i] = tagValue(id)
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, newCacheError("encode", "", ErrSerialization, err)
	}
	return data, nil
}

// Decode restores a result written by Encode. Integral numbers decode to
// int64 and other numbers to float64.
func Decode(data []byte) (*adapter.Result, error) {
	var p payload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, newCacheError("decode", "", ErrSerialization, err)
	}

	res := &adapter.Result{
		ID:     untagValue(p.ID),
		Count:  p.Count,
		Exists: p.Exists,
	}
	if p.Records != nil {
		res.Records = make([]adapter.Record, len(p.Records))
		for i, rec := range p.Records {
			res.Records[i] = untagRecord(rec)
		}
	}
	if p.Found {
		res.Record = untagRecord(p.Record)
		if res.Record == nil {
			res.Record = adapter.Record{}
		}
	}
	if p.IDs != nil {
		res.IDs = make([]interface{}, len(p.IDs))
		for i, id := range p.IDs {
			res.IDs[i] = untagValue(id)
		}
	}
	return res, nil
}

func tagRecord(rec adapter.Record) adapter.Record {
	if rec == nil {
		return nil
	}
	out := make(adapter.Record, len(rec))
	for k, v := range rec {
		out[k] = tagValue(v)
	}
	return out
}

func tagValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return map[string]interface{}{tagDate: val.Format(time.RFC3339Nano)}
	case *time.Time:
		if val == nil {
			return nil
		}
		return tagValue(*val)
	case []byte:
		return map[string]interface{}{tagBinary: base64.StdEncoding.EncodeToString(val)}
	case map[string]interface{}:
		return tagRecord(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = tagValue(item)
		}
		return out
	}
	return v
}

func untagRecord(rec adapter.Record) adapter.Record {
	if rec == nil {
		return nil
	}
	out := make(adapter.Record, len(rec))
	for k, v := range rec {
		out[k] = untagValue(v)
	}
	return out
}

func untagValue(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		if len(val) == 1 {
			if s, ok := val[tagDate].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			}
			if s, ok := val[tagBinary].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					return b
				}
			}
		}
		return untagRecord(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = untagValue(item)
		}
		return out
	}
	return v
}
