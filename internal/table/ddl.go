package table

import (
	"fmt"
	"strings"
)

// sqlType renders the DDL type clause for c, including width for
// VARCHAR columns.
func sqlType(c Column) string {
	switch c.Type {
	case TypeVarchar:
		width := c.Width
		if width == 0 {
			width = 1
		}
		return fmt.Sprintf("VARCHAR(%d)", width)
	default:
		return string(c.Type)
	}
}

// TranslationColumn describes one stored translation pair for a value
// column: the raw `_<column>--<lang>` storage column and the virtual
// `<column>--<lang>` computed column that coalesces it against the base.
type TranslationColumn struct {
	Column   string
	Language string
}

// BuildCreateTable renders `CREATE OR REPLACE TABLE` DDL for one physical
// shard: cols are the key columns (always present) followed by this
// shard's share of the value columns, entitySets are is--<set> boolean
// columns to declare (only meaningful on entity tables), and translations
// adds the stored + virtual column pair for each translated value column.
func BuildCreateTable(name string, keyCols, valueCols []Column, entitySets []string, translations []TranslationColumn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE TABLE %s (\n", QuoteIdent(name))

	var lines []string
	for _, c := range keyCols {
		lines = append(lines, fmt.Sprintf("  %s %s NOT NULL", QuoteIdent(c.Name), sqlType(c)))
	}
	for _, c := range valueCols {
		lines = append(lines, fmt.Sprintf("  %s %s NULL", QuoteIdent(c.Name), sqlType(c)))
	}
	for _, set := range entitySets {
		lines = append(lines, fmt.Sprintf("  %s BOOLEAN NOT NULL DEFAULT FALSE", QuoteIdent("is--"+set)))
	}
	for _, tr := range translations {
		stored := fmt.Sprintf("_%s--%s", tr.Column, tr.Language)
		virtual := fmt.Sprintf("%s--%s", tr.Column, tr.Language)
		lines = append(lines, fmt.Sprintf("  %s VARCHAR(%d) NULL", QuoteIdent(stored), TextThreshold))
		lines = append(lines, fmt.Sprintf("  %s VARCHAR(%d) AS (COALESCE(%s, %s)) VIRTUAL",
			QuoteIdent(virtual), TextThreshold, QuoteIdent(stored), QuoteIdent(tr.Column)))
	}

	keyNames := make([]string, len(keyCols))
	for i, c := range keyCols {
		keyNames[i] = QuoteIdent(c.Name)
	}
	lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(keyNames, ", ")))

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	return b.String()
}

// BuildSecondaryIndex renders a CREATE INDEX statement for one key
// component whose observed cardinality warrants its own index.
func BuildSecondaryIndex(table, column string) string {
	indexName := fmt.Sprintf("idx_%s_%s", table, column)
	if len(indexName) > MaxTableNameLength {
		indexName = PhysicalName(indexName)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", QuoteIdent(indexName), QuoteIdent(table), QuoteIdent(column))
}

// SecondaryIndexCardinality is the minimum distinct-value count a key
// component needs before it earns its own secondary index.
const SecondaryIndexCardinality = 150

// DropPrimaryKey and RecreatePrimaryKey bracket a bulk load: the primary
// index is dropped before the copy and recreated after, which is
// substantially faster than maintaining it row by row during a large
// external-table copy.
func DropPrimaryKey(table string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", QuoteIdent(table))
}

func RecreatePrimaryKey(table string, keyCols []string) string {
	names := make([]string, len(keyCols))
	for i, c := range keyCols {
		names[i] = QuoteIdent(c)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", QuoteIdent(table), strings.Join(names, ", "))
}
