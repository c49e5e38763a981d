package sqlite

import (
	"database/sql"
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver registered by this package. It is
// go-sqlite3 with a regexp() function installed on every connection, which
// SQLite calls for the REGEXP operator.
const driverName = "sqlite3_quickdb"

var patterns, _ = lru.New[string, *regexp.Regexp](256)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch implements "value REGEXP pattern". SQLite passes the pattern
// first. NULL values never match.
func regexpMatch(pattern string, value interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}
	re, ok := patterns.Get(pattern)
	if !ok {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false, err
		}
		patterns.Add(pattern, re)
	}
	switch v := value.(type) {
	case string:
		return re.MatchString(v), nil
	case []byte:
		return re.Match(v), nil
	default:
		return re.MatchString(fmt.Sprint(v)), nil
	}
}
