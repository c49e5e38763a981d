package main

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"

	"github.com/redbco/quickdb/pkg/adapter"
)

func printJSON(w io.Writer, pretty bool, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseRecord decodes a JSON object. Integral numbers become int64 and the
// rest float64.
func parseRecord(text string) (adapter.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var rec map[string]interface{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid JSON object: null")
	}
	return fromJSON(rec).(map[string]interface{}), nil
}

// parseRecords decodes a JSON array of objects.
func parseRecords(text string) ([]adapter.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var recs []map[string]interface{}
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("invalid JSON array of objects: %w", err)
	}
	out := make([]adapter.Record, len(recs))
	for i, rec := range recs {
		if rec == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}
		out[i] = fromJSON(rec).(map[string]interface{})
	}
	return out, nil
}

func fromJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return t.String()
		}
		return f
	case map[string]interface{}:
		for k, item := range t {
			t[k] = fromJSON(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = fromJSON(item)
		}
		return t
	}
	return v
}
