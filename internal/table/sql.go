package table

import (
	"fmt"
	"strings"

	"github.com/gapminder/ddf-server/internal/query"
)

// shardAlias names one wide-table shard's join alias, distinct from the
// query compiler's own t0/j1/j2 aliases.
func shardAlias(i int) string {
	return fmt.Sprintf("s%d", i)
}

// BuildSelect assembles the final parameterised SQL statement for a
// compiled query plan: the base table's wide-table shards joined on their
// full key, the compiler's resolved joins, the WHERE fragment it produced,
// and ORDER BY. Schema queries (plan.IsSchemaQuery) have no SQL and are not
// passed here; the caller streams plan.SchemaRows directly instead.
func BuildSelect(plan *query.Plan) (string, []interface{}, error) {
	if plan.BaseTable == nil {
		return "", nil, fmt.Errorf("table: plan has no base table to query")
	}
	physical := plan.BaseTable.PhysicalTables
	if len(physical) == 0 {
		return "", nil, fmt.Errorf("table: base table %v declares no physical tables", plan.BaseTable.Key)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	cols := make([]string, len(plan.SelectCols))
	for i, c := range plan.SelectCols {
		cols[i] = fmt.Sprintf("%s AS %s", c.Expr, QuoteIdent(c.Alias))
	}
	b.WriteString(strings.Join(cols, ", "))

	fmt.Fprintf(&b, "\nFROM %s AS %s", QuoteIdent(physical[0]), QuoteIdent(plan.BaseAlias))

	// Additional wide-table shards join on the full key against the first
	// shard, which carries the same key columns by construction.
	for i := 1; i < len(physical); i++ {
		alias := shardAlias(i)
		fmt.Fprintf(&b, "\nINNER JOIN %s AS %s ON %s", QuoteIdent(physical[i]), QuoteIdent(alias),
			keyJoinCondition(plan.BaseAlias, alias, plan.BaseTable.Key))
	}

	for _, j := range plan.Joins {
		jphys := j.Table.PhysicalTables
		if len(jphys) == 0 {
			return "", nil, fmt.Errorf("table: join table %v declares no physical tables", j.Table.Key)
		}
		fmt.Fprintf(&b, "\nINNER JOIN %s AS %s ON %s.%s = %s.%s",
			QuoteIdent(jphys[0]), QuoteIdent(j.Alias),
			QuoteIdent(plan.BaseAlias), QuoteIdent(j.OnColumn),
			QuoteIdent(j.Alias), QuoteIdent(j.OnColumn))
	}

	where := plan.WhereSQL
	if plan.NullRowCheck {
		nullCheck := allValueColumnsNullCheck(plan)
		if nullCheck != "" {
			if where == "" {
				where = nullCheck
			} else {
				where = "(" + where + ") AND " + nullCheck
			}
		}
	}
	if where != "" {
		fmt.Fprintf(&b, "\nWHERE %s", where)
	}

	if len(plan.OrderBy) > 0 {
		terms := make([]string, len(plan.OrderBy))
		for i, o := range plan.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = fmt.Sprintf("%s %s", QuoteIdent(o.Column), dir)
		}
		fmt.Fprintf(&b, "\nORDER BY %s", strings.Join(terms, ", "))
	}

	return b.String(), plan.WhereArgs, nil
}

// keyJoinCondition renders the equi-join predicate between two aliases of
// the same wide-table shard group, matching every key column.
func keyJoinCondition(leftAlias, rightAlias string, keyCols []string) string {
	parts := make([]string, len(keyCols))
	for i, k := range keyCols {
		parts[i] = fmt.Sprintf("%s.%s <=> %s.%s", QuoteIdent(leftAlias), QuoteIdent(k), QuoteIdent(rightAlias), QuoteIdent(k))
	}
	return strings.Join(parts, " AND ")
}

// allValueColumnsNullCheck renders "NOT (v1 IS NULL AND v2 IS NULL ...)" over
// the projected value columns, used to suppress all-null datapoint rows.
func allValueColumnsNullCheck(plan *query.Plan) string {
	valueCols := plan.SelectCols[plan.KeyColumns:]
	if len(valueCols) == 0 {
		return ""
	}
	parts := make([]string, len(valueCols))
	for i, c := range valueCols {
		parts[i] = fmt.Sprintf("%s IS NULL", c.Expr)
	}
	return "NOT (" + strings.Join(parts, " AND ") + ")"
}
