// Package query implements the structured query language: parsing (JSON and
// URL-object notation), validation, and an 8-step rewrite pipeline that
// compiles a query into a single SQL statement against a schema.Schema.
package query

import (
	"fmt"
	"regexp"

	"github.com/gapminder/ddf-server/internal/apperr"
)

// Select is the mandatory projection clause.
type Select struct {
	Key   []string
	Value []string
}

// Predicate is the recursive where-clause AST. Concrete types are
// AndPredicate, OrPredicate, and Comparison.
type Predicate interface{ predicateNode() }

// AndPredicate is `$and: [...]`.
type AndPredicate struct{ Clauses []Predicate }

// OrPredicate is `$or: [...]`.
type OrPredicate struct{ Clauses []Predicate }

// Comparison is `column: {$op: rhs}` or its scalar shorthand `column: rhs`
// (implicit $eq). A join-qualified column keeps its ".<joinvar>.<column>"
// form in Column; the compiler resolves the qualifier to a join alias when
// it translates the comparison. The parser and compiler leave JoinVar empty.
type Comparison struct {
	Column  string
	JoinVar string
	Op      string // eq, ne, gt, gte, lt, lte, in, nin
	Operand ValueOperand
}

func (AndPredicate) predicateNode() {}
func (OrPredicate) predicateNode()  {}
func (Comparison) predicateNode()   {}

// ValueOperand is the recursive value type a Comparison's right-hand side
// takes. JoinRefOperand additionally covers the `column: "$binding"` shape,
// where the literal value is actually a reference to a join variable's key
// rather than a string constant.
type ValueOperand interface{ operandNode() }

type NumberOperand float64
type StringOperand string
type BoolOperand bool
type ListOperand []ValueOperand
type JoinRefOperand string // binding name, without the leading "$"

func (NumberOperand) operandNode()  {}
func (StringOperand) operandNode()  {}
func (BoolOperand) operandNode()    {}
func (ListOperand) operandNode()    {}
func (JoinRefOperand) operandNode() {}

// JoinBinding is one entry of the `join` clause: `{key: ..., where: ...}`.
type JoinBinding struct {
	Key   []string // one or more key components this binding joins on
	Where Predicate
}

// OrderTerm is one `order_by` entry.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Query is the fully parsed, not-yet-validated query object.
type Query struct {
	Select   Select
	From     string
	Where    Predicate
	Join     map[string]JoinBinding // keyed by binding name without leading "$"
	OrderBy  []OrderTerm
	Language string
}

var languageTagRe = regexp.MustCompile(`^[a-zA-Z]{2,3}([_-][-_a-zA-Z0-9]{2,15})?$`)

// Validate checks the structural requirements the spec calls out as
// distinct QuerySyntax failures.
func (q *Query) Validate() error {
	if q.Select.Key == nil {
		return apperr.New(apperr.QuerySyntax, "select.key is required and must be a non-empty array")
	}
	if len(q.Select.Key) == 0 {
		return apperr.New(apperr.QuerySyntax, "select.key must be non-empty")
	}
	if q.Select.Value == nil {
		return apperr.New(apperr.QuerySyntax, "select.value must be an array (use [] for none)")
	}
	if q.From == "" {
		return apperr.New(apperr.QuerySyntax, "from is required and must be a string")
	}
	if q.Language != "" && !languageTagRe.MatchString(q.Language) {
		return apperr.New(apperr.QuerySyntax, fmt.Sprintf("malformed language tag: %q", q.Language))
	}
	for name := range q.Join {
		if name == "" {
			return apperr.New(apperr.QuerySyntax, "join variable name cannot be empty")
		}
	}
	return nil
}
