// Package admin implements the operations behind the ddf-admin CLI: loading
// a DDF package into the catalog, listing and retiring versions, and
// managing which version serves as a name's default. It talks directly to
// internal/catalog and internal/loader rather than over HTTP, since the
// admin CLI runs alongside the database rather than against a running
// server.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/catalog/mysqlcat"
	"github.com/gapminder/ddf-server/internal/loader"
	"github.com/gapminder/ddf-server/internal/notify"
	"github.com/gapminder/ddf-server/internal/table"
)

// Config collects the connection parameters needed to open the catalog and
// table pool a CLI invocation operates against.
type Config struct {
	MySQL           mysqlcat.Config
	SlackWebhookURL string
}

// Client bundles the catalog, table loader and ingestion pipeline the CLI
// subcommands share.
type Client struct {
	Catalog catalog.Catalog
	Loader  *loader.Loader
	db      *sql.DB
}

// Open connects to the catalog/table database and builds a Client. Callers
// must call Close when done.
func Open(cfg Config) (*Client, error) {
	store, err := mysqlcat.NewStore(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("admin: connect: %w", err)
	}

	tables := table.NewLoader(store.DB())
	notifier := notify.New(cfg.SlackWebhookURL, nil)

	return &Client{
		Catalog: store,
		Loader: &loader.Loader{
			Catalog:  store,
			Tables:   tables,
			Notifier: notifier,
		},
		db: store.DB(),
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.Catalog.Close()
}

// Load ingests the DDF package at dir under (name, version), publishing it
// as default when publish is true.
func (c *Client) Load(ctx context.Context, dir, name, version, password string, publish bool, maxColumns int) (*loader.Result, error) {
	return c.Loader.Load(ctx, loader.Options{
		Dir:        dir,
		Name:       name,
		Version:    version,
		Password:   password,
		Publish:    publish,
		MaxColumns: maxColumns,
	}, time.Now())
}

// ListVersions returns every known version of name, newest import first.
func (c *Client) ListVersions(ctx context.Context, name string) ([]*catalog.DatasetRecord, error) {
	return c.Catalog.List(ctx, name)
}

// ListNames returns every distinct dataset name in the catalog.
func (c *Client) ListNames(ctx context.Context) ([]string, error) {
	return c.Catalog.Names(ctx)
}

// MakeDefault flips name's default version to version.
func (c *Client) MakeDefault(ctx context.Context, name, version string) error {
	return c.Catalog.MarkDefault(ctx, name, version)
}

// Delete removes the version(s) selected by version (a literal version,
// catalog.TokenAll for every version, or catalog.TokenLatest for only the
// most recently imported version) and drops their backing tables. It
// returns the dropped table names.
func (c *Client) Delete(ctx context.Context, name, version string) ([]string, error) {
	return c.Catalog.Remove(ctx, name, version)
}

// Purge keeps the default (or, absent a default, the two most recent
// versions) plus the version preceding that kept set, removes every older
// version of name, and returns the dropped table names.
func (c *Client) Purge(ctx context.Context, name string) ([]string, error) {
	return c.Catalog.Purge(ctx, name)
}
