package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/schema"
)

// SelectExpr is one projected column: the physical expression to select
// (already backtick-quoted where needed) and the header name it is aliased
// to, which is always the name the caller requested (pre domain-rewrite).
type SelectExpr struct {
	Expr  string
	Alias string
}

// JoinPlan is one resolved INNER JOIN the table package must emit.
type JoinPlan struct {
	Table    *schema.Table
	Alias    string
	OnColumn string // column name on both sides of the equi-join
}

// OrderPlan is one resolved ORDER BY term.
type OrderPlan struct {
	Column string
	Desc   bool
}

// Plan is the query compiler's output: everything the table package needs
// to assemble and run a single SQL statement, or — for schema queries — the
// synthetic rows to stream instead.
type Plan struct {
	IsSchemaQuery bool
	SchemaRows    []schema.SchemaRow

	BaseTable  *schema.Table
	BaseAlias  string
	From       schema.From
	SelectCols []SelectExpr
	Joins      []JoinPlan
	WhereSQL   string
	WhereArgs  []interface{}
	OrderBy    []OrderPlan

	Header       []string
	KeyColumns   int // len(select.key), used for null-row filtering offset
	NullRowCheck bool

	Warnings []string
	Info     []string
}

const baseAlias = "t0"

// Compile runs the 8-step rewrite pipeline described for the structured
// query language and produces a Plan against sch.
func Compile(sch *schema.Schema, q *Query) (*Plan, error) {
	// Step 1: sort select.key and select.value so equivalent queries
	// produce identical SQL (enables compiled-query caching upstream).
	key := sortedCopy(q.Select.Key)
	value := sortedCopy(q.Select.Value)

	fromClause, err := schema.ParseFrom(q.From)
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "unsupported from clause", err)
	}

	if fromClause.IsSchemaQuery() {
		rows, err := sch.QueryRows(fromClause)
		if err != nil {
			return nil, apperr.Wrap(apperr.QuerySemantic, "from not supported by schema", err)
		}
		return &Plan{
			IsSchemaQuery: true,
			SchemaRows:    rows,
			Header:        []string{"key", "value"},
		}, nil
	}

	// Step 2: rewrite entity-set key components to their domain, recording
	// the implicit is--<set> IS TRUE filter.
	normalizedKey := make([]string, len(key))
	entitySetFilters := make([]string, 0)
	requestedNameByPhysical := make(map[string]string, len(key))
	for i, k := range key {
		physical := k
		if domain, ok := sch.ResolveDomain(k); ok {
			physical = domain
			entitySetFilters = append(entitySetFilters, "is--"+k)
		}
		normalizedKey[i] = physical
		requestedNameByPhysical[physical] = k
	}

	// Step 3: resolve from to a physical table.
	baseTable, err := sch.ResolveTable(fromClause, normalizedKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySemantic, "from not supported by current schema", err)
	}

	plan := &Plan{
		BaseTable: baseTable,
		BaseAlias: baseAlias,
		From:      fromClause,
	}

	// Step 4: resolve joins referenced from the where tree.
	referencedVars := collectJoinVars(q.Where)
	aliasByVar := make(map[string]string, len(referencedVars))
	onColumnByTable := make(map[string]string)
	idx := 0
	for _, v := range referencedVars {
		binding, ok := q.Join[v]
		if !ok {
			return nil, apperr.New(apperr.QuerySemantic, fmt.Sprintf("join foreign table unknown: %q", v))
		}
		onCol := binding.Key[0]
		if domain, ok := sch.ResolveDomain(onCol); ok {
			onCol = domain
		}
		foreignTable, _, err := sch.ResolveJoinTable(binding.Key[0])
		if err != nil {
			return nil, apperr.Wrap(apperr.QuerySemantic, fmt.Sprintf("join foreign table unknown: %q", v), err)
		}
		tableName := strings.Join(foreignTable.PhysicalTables, ",")
		if existing, seen := onColumnByTable[tableName]; seen && existing != onCol {
			return nil, apperr.New(apperr.QuerySemantic, fmt.Sprintf("join on %q conflicts with an earlier join on the same table using %q", onCol, existing))
		}
		onColumnByTable[tableName] = onCol

		idx++
		alias := fmt.Sprintf("j%d", idx)
		aliasByVar[v] = alias
		plan.Joins = append(plan.Joins, JoinPlan{Table: foreignTable, Alias: alias, OnColumn: onCol})

		// The binding's own where clause is local to the joined alias.
		if binding.Where != nil {
			sql, args, err := translatePredicate(binding.Where, alias, aliasByVar)
			if err != nil {
				return nil, err
			}
			if sql != "" {
				plan.WhereSQL = appendAnd(plan.WhereSQL, sql)
				plan.WhereArgs = append(plan.WhereArgs, args...)
			}
		}
	}

	// Entity-set membership filters apply to the table they were declared
	// against: the base table when from == entities, otherwise they belong
	// to whichever joined entity alias shares that domain.
	for _, col := range entitySetFilters {
		plan.WhereSQL = appendAnd(plan.WhereSQL, quoteIdent(baseAlias)+"."+quoteIdent(col)+" IS TRUE")
	}

	// Step 5 & 6: translate the top-level where tree into SQL.
	if q.Where != nil {
		sql, args, err := translatePredicate(q.Where, baseAlias, aliasByVar)
		if err != nil {
			return nil, err
		}
		if sql != "" {
			plan.WhereSQL = appendAnd(plan.WhereSQL, sql)
			plan.WhereArgs = append(plan.WhereArgs, args...)
		}
	}

	// Projection: key columns first, then value columns, preserving the
	// caller's requested (pre-rewrite) names as aliases.
	header := make([]string, 0, len(key)+len(value))
	cols := make([]SelectExpr, 0, len(key)+len(value))
	for _, physical := range normalizedKey {
		requested := requestedNameByPhysical[physical]
		cols = append(cols, SelectExpr{
			Expr:  quoteIdent(baseAlias) + "." + quoteIdent(physical),
			Alias: requested,
		})
		header = append(header, requested)
	}
	for _, v := range value {
		expr := quoteIdent(baseAlias) + "." + quoteIdent(v)
		// Step 8: language projection onto the virtual coalescing column.
		if q.Language != "" {
			if virtual, ok := baseTable.TranslatedColumn(v, q.Language); ok {
				expr = quoteIdent(baseAlias) + "." + quoteIdent(virtual)
			}
		}
		cols = append(cols, SelectExpr{Expr: expr, Alias: v})
		header = append(header, v)
	}
	plan.SelectCols = cols
	plan.Header = header
	plan.KeyColumns = len(key)
	plan.NullRowCheck = fromClause == schema.FromDatapoints && len(value) > 0

	// Step 7: order_by fields absent from the projection are dropped with a
	// warning rather than failing the query.
	projected := make(map[string]bool, len(header))
	for _, h := range header {
		projected[h] = true
	}
	for _, term := range q.OrderBy {
		if !projected[term.Column] {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("order_by column %q is not part of the projection and was ignored", term.Column))
			continue
		}
		plan.OrderBy = append(plan.OrderBy, OrderPlan{Column: term.Column, Desc: term.Desc})
	}

	return plan, nil
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func appendAnd(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + " AND " + addition
}

// collectJoinVars walks a predicate tree and returns, in first-seen order,
// every join variable referenced either as a JoinRefOperand rhs or via a
// ".var.column"-qualified column.
func collectJoinVars(p Predicate) []string {
	seen := map[string]bool{}
	var order []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch v := p.(type) {
		case AndPredicate:
			for _, c := range v.Clauses {
				walk(c)
			}
		case OrPredicate:
			for _, c := range v.Clauses {
				walk(c)
			}
		case Comparison:
			if jv, ok := v.Operand.(JoinRefOperand); ok {
				if !seen[string(jv)] {
					seen[string(jv)] = true
					order = append(order, string(jv))
				}
			}
			if strings.HasPrefix(v.Column, ".") {
				parts := strings.SplitN(strings.TrimPrefix(v.Column, "."), ".", 2)
				if len(parts) == 2 && !seen[parts[0]] {
					seen[parts[0]] = true
					order = append(order, parts[0])
				}
			}
		}
	}
	walk(p)
	return order
}

// translatePredicate renders p as a parameterised SQL boolean expression.
// defaultAlias is used for unqualified columns; aliasByVar resolves
// ".var.column"-qualified references to their join alias.
func translatePredicate(p Predicate, defaultAlias string, aliasByVar map[string]string) (string, []interface{}, error) {
	switch v := p.(type) {
	case nil:
		return "", nil, nil
	case AndPredicate:
		return translateConjunction(v.Clauses, "AND", defaultAlias, aliasByVar)
	case OrPredicate:
		return translateConjunction(v.Clauses, "OR", defaultAlias, aliasByVar)
	case Comparison:
		return translateComparison(v, defaultAlias, aliasByVar)
	default:
		return "", nil, apperr.New(apperr.Internal, fmt.Sprintf("unknown predicate node %T", p))
	}
}

func translateConjunction(clauses []Predicate, joiner, defaultAlias string, aliasByVar map[string]string) (string, []interface{}, error) {
	var parts []string
	var args []interface{}
	for _, c := range clauses {
		sql, a, err := translatePredicate(c, defaultAlias, aliasByVar)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, a...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, " "+joiner+" ") + ")", args, nil
}

func translateComparison(c Comparison, defaultAlias string, aliasByVar map[string]string) (string, []interface{}, error) {
	// A comparison against a join reference only exists to select which
	// declared join is active; the equi-join condition itself is emitted
	// once, in the JOIN ... ON clause.
	if _, ok := c.Operand.(JoinRefOperand); ok {
		return "", nil, nil
	}

	alias := defaultAlias
	column := c.Column
	if strings.HasPrefix(column, ".") {
		parts := strings.SplitN(strings.TrimPrefix(column, "."), ".", 2)
		if len(parts) != 2 {
			return "", nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("malformed qualified column: %q", c.Column))
		}
		resolved, ok := aliasByVar[parts[0]]
		if !ok {
			return "", nil, apperr.New(apperr.QuerySemantic, fmt.Sprintf("where clause references unknown join variable %q", parts[0]))
		}
		alias = resolved
		column = parts[1]
	}
	qualified := quoteIdent(alias) + "." + quoteIdent(column)

	switch c.Op {
	case "eq":
		if b, ok := c.Operand.(BoolOperand); ok {
			if b {
				return qualified + " IS TRUE", nil, nil
			}
			return qualified + " IS FALSE", nil, nil
		}
		return qualified + " <=> ?", []interface{}{operandValue(c.Operand)}, nil
	case "ne":
		if b, ok := c.Operand.(BoolOperand); ok {
			if b {
				return qualified + " IS NOT TRUE", nil, nil
			}
			return qualified + " IS NOT FALSE", nil, nil
		}
		return "NOT (" + qualified + " <=> ?)", []interface{}{operandValue(c.Operand)}, nil
	case "gt":
		return qualified + " > ?", []interface{}{operandValue(c.Operand)}, nil
	case "gte":
		return qualified + " >= ?", []interface{}{operandValue(c.Operand)}, nil
	case "lt":
		return qualified + " < ?", []interface{}{operandValue(c.Operand)}, nil
	case "lte":
		return qualified + " <= ?", []interface{}{operandValue(c.Operand)}, nil
	case "in", "nin":
		list, ok := c.Operand.(ListOperand)
		if !ok {
			return "", nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("%s requires a list operand", c.Op))
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(list)), ",")
		args := make([]interface{}, len(list))
		for i, v := range list {
			args[i] = operandValue(v)
		}
		verb := "IN"
		if c.Op == "nin" {
			verb = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", qualified, verb, placeholders), args, nil
	default:
		return "", nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("unsupported comparison operator: %q", c.Op))
	}
}

func operandValue(v ValueOperand) interface{} {
	switch o := v.(type) {
	case NumberOperand:
		return float64(o)
	case StringOperand:
		return string(o)
	case BoolOperand:
		return bool(o)
	default:
		return nil
	}
}

// quoteIdent backtick-quotes a SQL identifier, escaping any embedded
// backtick. The compiler never interpolates user-supplied strings as SQL
// text outside of this function and parameter placeholders.
func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
