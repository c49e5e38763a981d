package idgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Validate reports whether id has the shape the strategy produces.
func Validate(s Strategy, id interface{}) bool {
	t, _ := ParseStrategyType(string(s.Type))
	switch t {
	case AutoIncrement:
		n, ok := asInt64(id)
		return ok && n > 0
	case UUID:
		str, ok := id.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(str)
		return err == nil
	case Snowflake:
		switch v := id.(type) {
		case string:
			_, err := strconv.ParseUint(v, 10, 64)
			return err == nil
		default:
			_, ok := asInt64(id)
			return ok
		}
	case ObjectID:
		str, ok := id.(string)
		if !ok {
			return false
		}
		_, err := bson.ObjectIDFromHex(str)
		return err == nil
	case Custom:
		str, ok := id.(string)
		return ok && strings.HasPrefix(str, s.Prefix+"_")
	}
	return false
}

// ParseID converts textual input (for instance a command line argument) into
// the id type the strategy stores.
func ParseID(s Strategy, text string) (interface{}, error) {
	text = strings.TrimSpace(text)
	t, _ := ParseStrategyType(string(s.Type))
	if t == AutoIncrement {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid auto increment id %q: %w", text, err)
		}
		return n, nil
	}
	if !Validate(s, text) {
		return nil, fmt.Errorf("invalid %s id %q", s.Type, text)
	}
	return text, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
