package condition

import "strings"

// Operator is a comparison applied by a leaf condition.
type Operator string

const (
	// Equality
	Eq Operator = "eq"
	Ne Operator = "ne"

	// Ordering
	Gt  Operator = "gt"
	Gte Operator = "gte"
	Lt  Operator = "lt"
	Lte Operator = "lte"

	// String matching
	Contains   Operator = "contains"
	StartsWith Operator = "startswith"
	EndsWith   Operator = "endswith"

	// Membership
	In    Operator = "in"
	NotIn Operator = "notin"

	// Existence
	Exists    Operator = "exists"
	IsNull    Operator = "isnull"
	IsNotNull Operator = "isnotnull"

	Regex Operator = "regex"
)

// All lists every supported operator.
var All = []Operator{
	Eq, Ne, Gt, Gte, Lt, Lte,
	Contains, StartsWith, EndsWith,
	In, NotIn,
	Exists, IsNull, IsNotNull,
	Regex,
}

var operatorAliases = map[string]Operator{
	"=":           Eq,
	"==":          Eq,
	"!=":          Ne,
	"<>":          Ne,
	">":           Gt,
	">=":          Gte,
	"<":           Lt,
	"<=":          Lte,
	"starts_with": StartsWith,
	"ends_with":   EndsWith,
	"not_in":      NotIn,
	"is_null":     IsNull,
	"is_not_null": IsNotNull,
}

// ParseOperator resolves an operator name case-insensitively. Symbolic forms
// such as ">=" and snake_case spellings are accepted.
func ParseOperator(name string) (Operator, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, op := range All {
		if string(op) == key {
			return op, true
		}
	}
	op, ok := operatorAliases[key]
	return op, ok
}

// IsNullary reports whether the operator takes no value.
func (o Operator) IsNullary() bool {
	return o == Exists || o == IsNull || o == IsNotNull
}

// IsMembership reports whether the operator takes a list value.
func (o Operator) IsMembership() bool {
	return o == In || o == NotIn
}

// IsStringMatch reports whether the operator requires a string value.
func (o Operator) IsStringMatch() bool {
	return o == Contains || o == StartsWith || o == EndsWith || o == Regex
}

// IsOrdering reports whether the operator compares by order.
func (o Operator) IsOrdering() bool {
	return o == Gt || o == Gte || o == Lt || o == Lte
}
