package cache

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/redbco/quickdb/pkg/adapter"
)

// Key derives the cache key for a read request:
//
//	{prefix}:{alias}:{collection}:{kind}:{xxh3-128 hex}
//
// The hash covers the normalised condition, the query options, the id and the
// collection's schema version, so equal requests map to equal keys.
func Key(prefix, alias string, req *adapter.Request, schemaVersion uint64) string {
	h := xxh3.New()
	writePart(h, string(req.Kind))
	writePart(h, req.Condition.Key())
	writePart(h, req.Options.Key())
	if req.ID != nil {
		id := canonicalID(req.ID)
		writePart(h, fmt.Sprintf("%T:%v", id, id))
	} else {
		writePart(h, "")
	}
	writePart(h, strconv.FormatUint(schemaVersion, 10))

	sum := h.Sum128().Bytes()
	return CollectionPrefix(prefix, alias, req.Collection) + string(req.Kind) + ":" + hex.EncodeToString(sum[:])
}

// CollectionPrefix is the prefix shared by every key of one collection. It
// ends with a separator so that "user" never matches "users".
func CollectionPrefix(prefix, alias, collection string) string {
	return AliasPrefix(prefix, alias) + collection + ":"
}

// AliasPrefix is the prefix shared by every key of one alias.
func AliasPrefix(prefix, alias string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(alias) + 2)
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(alias)
	b.WriteByte(':')
	return b.String()
}

// canonicalID folds integer widths so that 7 and int64(7) share a key.
func canonicalID(id interface{}) interface{} {
	switch v := id.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v)
		}
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
	}
	return id
}

// writePart length-prefixes s so that adjacent parts cannot run together.
func writePart(h *xxh3.Hasher, s string) {
	_, _ = h.WriteString(strconv.Itoa(len(s)))
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(s)
}
