// Package mysqlcat implements catalog.Catalog on top of MySQL/TiDB, storing
// every dataset version as one row of a single `datasets` table.
package mysqlcat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/table"
)

func init() {
	catalog.Register(catalog.TypeMySQL, func(cfg map[string]interface{}) (catalog.Catalog, error) {
		c := DefaultConfig()
		if v, ok := cfg["host"].(string); ok && v != "" {
			c.Host = v
		}
		if v, ok := cfg["port"].(int); ok && v != 0 {
			c.Port = v
		}
		if v, ok := cfg["database"].(string); ok && v != "" {
			c.Database = v
		}
		if v, ok := cfg["username"].(string); ok && v != "" {
			c.Username = v
		}
		if v, ok := cfg["password"].(string); ok {
			c.Password = v
		}
		if v, ok := cfg["socket_path"].(string); ok {
			c.SocketPath = v
		}
		return NewStore(c)
	})
}

// Config describes how to connect to the catalog's backing database.
type Config struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SocketPath      string // set instead of Host/Port for unix-socket connections
	TLS             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane pool defaults; callers still need to set
// connection parameters.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            3306,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// DSN renders the go-sql-driver/mysql data source name for this config.
func (c Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = false
	if c.SocketPath != "" {
		cfg.Net = "unix"
		cfg.Addr = c.SocketPath
	} else {
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	if c.TLS != "" {
		cfg.TLSConfig = c.TLS
	}
	return cfg.FormatDSN()
}

// Store is a MySQL-backed catalog.Catalog.
type Store struct {
	db    *sql.DB
	stmts preparedStatements
}

type preparedStatements struct {
	list         *sql.Stmt
	lookup       *sql.Stmt
	lookupDflt   *sql.Stmt
	lookupLatest *sql.Stmt
	names        *sql.Stmt
	insert       *sql.Stmt
	clearDefault *sql.Stmt
	setDefault   *sql.Stmt
	hasDefault   *sql.Stmt
	remove       *sql.Stmt
}

// NewStore opens a connection pool, applies migrations idempotently, and
// prepares the statements this store needs.
func NewStore(cfg Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("mysqlcat: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlcat: ping: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlcat: migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlcat: prepare: %w", err)
	}
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isMySQLDuplicateKeyNameError(err) || isMySQLTableExistsError(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Store) prepare(ctx context.Context) error {
	statements := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.stmts.list, `SELECT name, version, is__default, definition, imported, COALESCE(password, '')
			FROM datasets WHERE name = ? ORDER BY imported DESC`},
		{&s.stmts.lookup, `SELECT name, version, is__default, definition, imported, COALESCE(password, '')
			FROM datasets WHERE name = ? AND version = ?`},
		{&s.stmts.lookupDflt, `SELECT name, version, is__default, definition, imported, COALESCE(password, '')
			FROM datasets WHERE name = ? AND is__default = TRUE LIMIT 1`},
		{&s.stmts.lookupLatest, `SELECT name, version, is__default, definition, imported, COALESCE(password, '')
			FROM datasets WHERE name = ? ORDER BY imported DESC LIMIT 1`},
		{&s.stmts.names, `SELECT DISTINCT name FROM datasets ORDER BY name`},
		{&s.stmts.insert, `INSERT INTO datasets (name, version, is__default, definition, imported, password)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`},
		{&s.stmts.clearDefault, `UPDATE datasets SET is__default = FALSE WHERE name = ? AND is__default = TRUE`},
		{&s.stmts.setDefault, `UPDATE datasets SET is__default = TRUE WHERE name = ? AND version = ?`},
		{&s.stmts.hasDefault, `SELECT COUNT(*) FROM datasets WHERE name = ? AND is__default = TRUE`},
		{&s.stmts.remove, `DELETE FROM datasets WHERE name = ? AND version = ?`},
	}
	for _, st := range statements {
		prepared, err := s.db.PrepareContext(ctx, st.text)
		if err != nil {
			return err
		}
		*st.dst = prepared
	}
	return nil
}

func scanRecord(row interface{ Scan(...interface{}) error }) (*catalog.DatasetRecord, error) {
	var (
		rec        catalog.DatasetRecord
		definition []byte
	)
	if err := row.Scan(&rec.Name, &rec.Version, &rec.IsDefault, &definition, &rec.Imported, &rec.PasswordHash); err != nil {
		return nil, err
	}
	rec.Definition = json.RawMessage(definition)
	return &rec, nil
}

func (s *Store) List(ctx context.Context, name string) ([]*catalog.DatasetRecord, error) {
	rows, err := s.stmts.list.QueryContext(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list datasets", err)
	}
	defer rows.Close()

	var out []*catalog.DatasetRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan dataset row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Lookup(ctx context.Context, name, version string) (*catalog.DatasetRecord, error) {
	switch version {
	case "":
		rec, err := scanRecord(s.stmts.lookupDflt.QueryRowContext(ctx, name))
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.Internal, "lookup default dataset", err)
		}
		return s.lookupLatestVersion(ctx, name)
	case catalog.TokenLatest:
		return s.lookupLatestVersion(ctx, name)
	default:
		rec, err := scanRecord(s.stmts.lookup.QueryRowContext(ctx, name, version))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "lookup dataset", err)
		}
		return rec, nil
	}
}

func (s *Store) lookupLatestVersion(ctx context.Context, name string) (*catalog.DatasetRecord, error) {
	rec, err := scanRecord(s.stmts.lookupLatest.QueryRowContext(ctx, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup most recent dataset", err)
	}
	return rec, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.stmts.names.QueryContext(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list dataset names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan dataset name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// InsertNew writes rec, retrying once on a deadlock as detected by the
// driver's error code. Concurrent loader runs against distinct datasets
// never contend on the same row, so a single retry is enough to ride out
// lock-wait timeouts from the primary key's unique index.
func (s *Store) InsertNew(ctx context.Context, rec *catalog.DatasetRecord) error {
	op := func() error {
		_, err := s.stmts.insert.ExecContext(ctx, rec.Name, rec.Version, rec.IsDefault,
			[]byte(rec.Definition), rec.Imported, rec.PasswordHash)
		if isMySQLDuplicateKeyError(err) {
			return backoff.Permanent(apperr.New(apperr.Conflict, "dataset version already exists: "+rec.Name+"/"+rec.Version))
		}
		if isMySQLDeadlockError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 1)
	if err := backoff.Retry(op, policy); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Wrap(apperr.Internal, "insert dataset", err)
	}
	return nil
}

func (s *Store) MarkDefault(ctx context.Context, name, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin mark-default tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.stmts.clearDefault).ExecContext(ctx, name); err != nil {
		return apperr.Wrap(apperr.Internal, "clear default", err)
	}

	if version == catalog.TokenLatest {
		// A literal "latest" leaves no explicit default; confirm name
		// exists so callers still get NotFound for an unknown dataset.
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE name = ?`, name).Scan(&count); err != nil {
			return apperr.Wrap(apperr.Internal, "check dataset exists", err)
		}
		if count == 0 {
			return apperr.New(apperr.NotFound, "dataset not found: "+name)
		}
		return tx.Commit()
	}

	result, err := tx.StmtContext(ctx, s.stmts.setDefault).ExecContext(ctx, name, version)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "set default", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
	}
	return tx.Commit()
}

func (s *Store) EnsureDefault(ctx context.Context, name, version string) error {
	var count int
	if err := s.stmts.hasDefault.QueryRowContext(ctx, name).Scan(&count); err != nil {
		return apperr.Wrap(apperr.Internal, "check existing default", err)
	}
	if count > 0 {
		return nil
	}
	result, err := s.stmts.setDefault.ExecContext(ctx, name, version)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "set default", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, name, version string) ([]string, error) {
	records, err := s.List(ctx, name)
	if err != nil {
		return nil, err
	}
	targets, err := catalog.ResolveRemoval(records, version)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*catalog.DatasetRecord, len(records))
	for _, r := range records {
		byVersion[r.Version] = r
	}
	var tables []string
	for _, v := range targets {
		tables = append(tables, catalog.PhysicalTablesOf(byVersion[v])...)
	}

	if err := s.deleteVersionsAndTables(ctx, name, targets, tables); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Store) Purge(ctx context.Context, name string) ([]string, error) {
	records, err := s.List(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	keep := catalog.ResolveKeep(records)

	var targets, tables []string
	for _, r := range records {
		if keep[r.Version] {
			continue
		}
		targets = append(targets, r.Version)
		tables = append(tables, catalog.PhysicalTablesOf(r)...)
	}

	if err := s.deleteVersionsAndTables(ctx, name, targets, tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// deleteVersionsAndTables removes the given catalog rows and then drops
// their backing tables inside one transaction. The row deletes are atomic
// with each other; MySQL commits each DROP TABLE implicitly, so a failed
// drop can leave a physical table behind after its rows are gone.
func (s *Store) deleteVersionsAndTables(ctx context.Context, name string, versions, tables []string) error {
	if len(versions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin remove tx", err)
	}
	defer tx.Rollback()

	remove := tx.StmtContext(ctx, s.stmts.remove)
	for _, v := range versions {
		if _, err := remove.ExecContext(ctx, name, v); err != nil {
			return apperr.Wrap(apperr.Internal, "remove dataset version "+v, err)
		}
	}
	for _, t := range tables {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", table.QuoteIdent(t))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.Internal, "drop table "+t, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for callers in internal/table that need to
// run bulk loads and schema DDL against the same database.
func (s *Store) DB() *sql.DB { return s.db }

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func isMySQLDuplicateKeyError(err error) bool   { return mysqlErrNumber(err) == 1062 }
func isMySQLDeadlockError(err error) bool       { return mysqlErrNumber(err) == 1213 || mysqlErrNumber(err) == 1205 }
func isMySQLDuplicateKeyNameError(err error) bool {
	return mysqlErrNumber(err) == 1061 || strings.Contains(errMsg(err), "Duplicate key name")
}
func isMySQLTableExistsError(err error) bool { return mysqlErrNumber(err) == 1050 }

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
