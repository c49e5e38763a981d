package dbcapabilities

import "strings"

// DatabaseType is the canonical identifier for a backend supported by quickdb.
// Adapters are selected by this tag at configuration time.
type DatabaseType string

const (
	SQLite     DatabaseType = "sqlite"
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	MongoDB    DatabaseType = "mongodb"
)

// DataParadigm enumerates the primary data storage paradigms a database supports.
type DataParadigm string

const (
	ParadigmRelational DataParadigm = "relational" // Tables, schemas, SQL
	ParadigmDocument   DataParadigm = "document"   // Collections, documents
)

// Capability describes what a backend supports so that the core can make
// decisions without importing the backend.
type Capability struct {
	// Human-friendly product name, e.g., "PostgreSQL".
	Name string `json:"name"`

	// Canonical ID, e.g., "postgres".
	ID DatabaseType `json:"id"`

	// Whether the server exposes a built-in database and its typical names.
	HasSystemDatabase bool     `json:"hasSystemDatabase"`
	SystemDatabases   []string `json:"systemDatabases,omitempty"`

	// Default TCP port, zero for embedded databases.
	DefaultPort int `json:"defaultPort,omitempty"`

	// Embedded databases are opened from a file path instead of a host.
	Embedded bool `json:"embedded,omitempty"`

	// Name of the primary key as stored by the backend.
	PrimaryKey string `json:"primaryKey"`

	// Whether the backend can evaluate regular expressions server side.
	SupportsRegex bool `json:"supportsRegex"`

	// Primary data storage paradigms supported.
	Paradigms []DataParadigm `json:"paradigms"`

	// Common aliases (URL schemes, driver names, env labels) that map to this database.
	Aliases []string `json:"aliases,omitempty"`
}

// All is a registry of capabilities keyed by the canonical database type.
var All = map[DatabaseType]Capability{
	SQLite: {
		Name:          "SQLite",
		ID:            SQLite,
		Embedded:      true,
		PrimaryKey:    "id",
		SupportsRegex: true,
		Paradigms:     []DataParadigm{ParadigmRelational},
		Aliases:       []string{"sqlite3"},
	},
	PostgreSQL: {
		Name:              "PostgreSQL",
		ID:                PostgreSQL,
		HasSystemDatabase: true,
		SystemDatabases:   []string{"postgres"},
		DefaultPort:       5432,
		PrimaryKey:        "id",
		SupportsRegex:     true,
		Paradigms:         []DataParadigm{ParadigmRelational},
		Aliases:           []string{"postgresql", "pgsql", "pg"},
	},
	MySQL: {
		Name:              "MySQL",
		ID:                MySQL,
		HasSystemDatabase: true,
		SystemDatabases:   []string{"mysql"},
		DefaultPort:       3306,
		PrimaryKey:        "id",
		SupportsRegex:     true,
		Paradigms:         []DataParadigm{ParadigmRelational},
		Aliases:           []string{"mariadb"},
	},
	MongoDB: {
		Name:              "MongoDB",
		ID:                MongoDB,
		HasSystemDatabase: true,
		SystemDatabases:   []string{"admin"},
		DefaultPort:       27017,
		PrimaryKey:        "_id",
		SupportsRegex:     true,
		Paradigms:         []DataParadigm{ParadigmDocument},
		Aliases:           []string{"mongo", "mongodb+srv"},
	},
}

// nameToID is a normalized lookup index from any known name/alias to the canonical DatabaseType.
var nameToID map[string]DatabaseType

func init() {
	nameToID = make(map[string]DatabaseType, len(All)*3)
	for id, cap := range All {
		nameToID[strings.ToLower(string(id))] = id
		if cap.Name != "" {
			nameToID[strings.ToLower(cap.Name)] = id
		}
		for _, a := range cap.Aliases {
			if a == "" {
				continue
			}
			nameToID[strings.ToLower(a)] = id
		}
	}
}

// ParseID attempts to resolve an arbitrary database name (canonical id, alias, or product name)
// to a canonical DatabaseType. Returns false if unknown.
func ParseID(name string) (DatabaseType, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	id, ok := nameToID[n]
	return id, ok
}

// GetByName returns the Capability by looking up using a free-form name (id or alias).
func GetByName(name string) (Capability, bool) {
	if id, ok := ParseID(name); ok {
		return Get(id)
	}
	return Capability{}, false
}

// IDs returns the list of all known database types.
func IDs() []DatabaseType {
	out := make([]DatabaseType, 0, len(All))
	for id := range All {
		out = append(out, id)
	}
	return out
}

// Get returns capabilities for the given type and a boolean indicating existence.
func Get(id DatabaseType) (Capability, bool) {
	c, ok := All[id]
	return c, ok
}

// MustGet returns capabilities for the given type and panics if not found.
func MustGet(id DatabaseType) Capability {
	c, ok := Get(id)
	if !ok {
		panic("dbcapabilities: unknown database id: " + string(id))
	}
	return c
}

// SupportsParadigm reports whether the database supports a given data paradigm.
func SupportsParadigm(id DatabaseType, p DataParadigm) bool {
	c, ok := Get(id)
	if !ok {
		return false
	}
	for _, dp := range c.Paradigms {
		if dp == p {
			return true
		}
	}
	return false
}

// IsRelational is a shorthand for SupportsParadigm(id, ParadigmRelational).
func IsRelational(id DatabaseType) bool {
	return SupportsParadigm(id, ParadigmRelational)
}
