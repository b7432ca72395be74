// Package table wraps the physical relational tables backing one schema
// entity: CSV-driven type inference, DDL emission, wide-table splitting,
// bulk loading, indexing, and final SQL assembly for a compiled query plan.
package table

import "strings"

// QuoteIdent backtick-quotes a SQL identifier for MySQL/TiDB, escaping any
// embedded backtick.
func QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// QuoteString single-quotes and escapes a literal for embedding directly
// in DDL (bulk-load file paths, default values); parameterised queries use
// placeholders instead and never call this.
func QuoteString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + replacer.Replace(s) + "'"
}

// MaxTableNameLength is MySQL's identifier length cap. Logical names
// exceeding it are hashed down to a DB-safe name (see PhysicalName in
// infer.go).
const MaxTableNameLength = 64
