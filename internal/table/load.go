package table

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

// Loader runs DDL and bulk-loads CSV data against a shared connection pool.
// It is shared by the dataset loader's per-table ingestion steps, which may
// run several of these concurrently via errgroup against distinct tables.
type Loader struct {
	db *sql.DB
}

// NewLoader wraps an already-configured pool, typically the same one the
// catalog store holds so that catalog writes and table DDL commit against
// the same database.
func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

// CreateTable runs the CREATE OR REPLACE TABLE statement for one shard.
func (l *Loader) CreateTable(ctx context.Context, ddl string) error {
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("table: create: %w", err)
	}
	return nil
}

// Query runs a compiled SELECT (as produced by BuildSelect) against the
// pool and returns the resulting rows for the caller to stream and close.
func (l *Loader) Query(ctx context.Context, sqlText string, args []interface{}) (*sql.Rows, error) {
	rows, err := l.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("table: query: %w", err)
	}
	return rows, nil
}

// DB exposes the underlying pool for callers (the admission controller's
// queue-depth check, health probes) that need pool stats directly.
func (l *Loader) DB() *sql.DB { return l.db }

// BulkLoadOptions configures one shard's data load.
type BulkLoadOptions struct {
	Table           string
	Columns         []string
	SourcePath      string // path visible to the database server for LOAD DATA
	HasTranslations bool   // forces row-by-row upsert instead of the fast path
}

// BulkLoad loads one CSV resource into table. When the resource carries no
// translations, it uses the fast external-table-copy path (LOAD DATA
// together with an UPSERT against a staging table); otherwise it falls back
// to row-by-row upserts so that translation columns merge correctly against
// rows already present from a prior language pass.
func (l *Loader) BulkLoad(ctx context.Context, opts BulkLoadOptions) (int64, error) {
	if opts.HasTranslations {
		return l.upsertRows(ctx, opts)
	}
	return l.copyLoad(ctx, opts)
}

// copyLoad stages opts.SourcePath into a throwaway table with the driver's
// LOAD DATA LOCAL INFILE, then folds it into the target with a single
// INSERT ... SELECT ... ON DUPLICATE KEY UPDATE.
func (l *Loader) copyLoad(ctx context.Context, opts BulkLoadOptions) (int64, error) {
	staging := PhysicalName(opts.Table + "_stage_" + stageSuffix())
	colList := quoteIdentList(opts.Columns)

	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s LIKE %s", QuoteIdent(staging), QuoteIdent(opts.Table))); err != nil {
		return 0, fmt.Errorf("table: stage create: %w", err)
	}
	defer l.db.ExecContext(context.Background(), fmt.Sprintf("DROP TEMPORARY TABLE IF EXISTS %s", QuoteIdent(staging)))

	mysql.RegisterLocalFile(opts.SourcePath)
	loadStmt := fmt.Sprintf(
		"LOAD DATA LOCAL INFILE %s INTO TABLE %s FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '\"' LINES TERMINATED BY '\\n' IGNORE 1 LINES (%s)",
		QuoteString(opts.SourcePath), QuoteIdent(staging), strings.Join(colList, ", "))
	if _, err := l.db.ExecContext(ctx, loadStmt); err != nil {
		return 0, fmt.Errorf("table: load data: %w", err)
	}

	upsert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON DUPLICATE KEY UPDATE %s",
		QuoteIdent(opts.Table), strings.Join(colList, ", "), strings.Join(colList, ", "), QuoteIdent(staging),
		onDuplicateUpdateClause(opts.Columns))
	result, err := l.db.ExecContext(ctx, upsert)
	if err != nil {
		return 0, fmt.Errorf("table: insert-select upsert: %w", err)
	}
	return result.RowsAffected()
}

// upsertRows reads opts.SourcePath row by row and upserts each one, so that
// a translation pass only overwrites the translated columns it carries and
// leaves base-language values already on file untouched. Each row retries
// once on a deadlock, matching the catalog store's retry policy.
func (l *Loader) upsertRows(ctx context.Context, opts BulkLoadOptions) (int64, error) {
	f, err := openSource(opts.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("table: open source: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	if _, err := cr.Read(); err != nil { // header
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("table: read header: %w", err)
	}

	colList := quoteIdentList(opts.Columns)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Columns)), ",")
	stmtText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		QuoteIdent(opts.Table), strings.Join(colList, ", "), placeholders, onDuplicateUpdateClause(opts.Columns))
	stmt, err := l.db.PrepareContext(ctx, stmtText)
	if err != nil {
		return 0, fmt.Errorf("table: prepare upsert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("table: read row: %w", err)
		}
		args := make([]interface{}, len(record))
		for i, v := range record {
			args[i] = v
		}
		if err := upsertOneRow(ctx, stmt, args); err != nil {
			return n, fmt.Errorf("table: upsert row: %w", err)
		}
		n++
	}
	return n, nil
}

func upsertOneRow(ctx context.Context, stmt *sql.Stmt, args []interface{}) error {
	op := func() error {
		_, err := stmt.ExecContext(ctx, args...)
		if isDeadlock(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 1)
	return backoff.Retry(op, policy)
}

func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}

// TranslationLoadOptions configures one language pass over a translation
// CSV whose header lists keyCols followed by the base-named value columns.
type TranslationLoadOptions struct {
	Table      string
	KeyCols    []string
	ValueCols  []string
	Language   string
	SourcePath string
}

// UpsertTranslationRows reads a translation CSV row by row and stores each
// translated value into its `_<col>--<lang>` shadow column, leaving the
// base-language columns and any other language's shadow columns untouched.
// A row whose key is not already present from the base-language load
// creates a new row with the shadow columns populated and everything else
// NULL; ON DUPLICATE KEY UPDATE merges it once the base-language row
// arrives (or already has, if this pass runs after the base load).
func (l *Loader) UpsertTranslationRows(ctx context.Context, opts TranslationLoadOptions) (int64, error) {
	f, err := openSource(opts.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("table: open translation source: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	if _, err := cr.Read(); err != nil { // header
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("table: read translation header: %w", err)
	}

	storedCols := make([]string, len(opts.ValueCols))
	for i, c := range opts.ValueCols {
		storedCols[i] = "_" + c + "--" + opts.Language
	}
	insertCols := append(append([]string(nil), opts.KeyCols...), storedCols...)
	colList := quoteIdentList(insertCols)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(insertCols)), ",")
	stmtText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		QuoteIdent(opts.Table), strings.Join(colList, ", "), placeholders, onDuplicateUpdateClause(storedCols))
	stmt, err := l.db.PrepareContext(ctx, stmtText)
	if err != nil {
		return 0, fmt.Errorf("table: prepare translation upsert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("table: read translation row: %w", err)
		}
		args := make([]interface{}, len(record))
		for i, v := range record {
			args[i] = v
		}
		if err := upsertOneRow(ctx, stmt, args); err != nil {
			return n, fmt.Errorf("table: upsert translation row: %w", err)
		}
		n++
	}
	return n, nil
}

// RecreateIndexes recreates the primary key after a copyLoad-style bulk
// load (DropPrimary drops it beforehand), plus any secondary indexes the
// caller decided cardinality warrants.
func (l *Loader) RecreateIndexes(ctx context.Context, table string, keyCols []string, secondaryCols []string) error {
	if _, err := l.db.ExecContext(ctx, RecreatePrimaryKey(table, keyCols)); err != nil {
		return fmt.Errorf("table: recreate primary key: %w", err)
	}
	for _, col := range secondaryCols {
		if _, err := l.db.ExecContext(ctx, BuildSecondaryIndex(table, col)); err != nil {
			return fmt.Errorf("table: create secondary index on %s: %w", col, err)
		}
	}
	return nil
}

// DropPrimary drops table's primary key ahead of a bulk copy load.
func (l *Loader) DropPrimary(ctx context.Context, table string) error {
	if _, err := l.db.ExecContext(ctx, DropPrimaryKey(table)); err != nil {
		return fmt.Errorf("table: drop primary key: %w", err)
	}
	return nil
}

// DropTables issues a DROP TABLE for every named table inside a single
// transaction; MySQL commits each DROP TABLE implicitly, so the drops are
// not atomic as a group and a failure leaves earlier drops in place. Unknown table
// names are tolerated via IF EXISTS, since a schema split across shards may
// list more shard names than ever got created.
func (l *Loader) DropTables(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("table: begin drop tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdent(t))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("table: drop %s: %w", t, err)
		}
	}
	return tx.Commit()
}

func onDuplicateUpdateClause(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		q := QuoteIdent(c)
		parts[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return strings.Join(parts, ", ")
}

func quoteIdentList(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = QuoteIdent(c)
	}
	return out
}

func stageSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func openSource(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
