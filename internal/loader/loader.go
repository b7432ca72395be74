// Package loader implements the dataset ingestion pipeline: discovering a
// DDF package's CSV resources on disk, inferring and creating the physical
// tables that back them, bulk loading data (with wide-table splitting and
// per-language translation passes), uploading assets, and registering the
// resulting schema under a new (name, version) in the catalog.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/assets"
	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/notify"
	"github.com/gapminder/ddf-server/internal/schema"
	"github.com/gapminder/ddf-server/internal/table"
)

// Options configures one ingestion run.
type Options struct {
	Dir        string // package root on disk
	Name       string
	Version    string // explicit version, or "" to auto-assign via NextVersion
	Password   string // optional plaintext password; hashed before storage
	Publish    bool   // mark the loaded version as default once registered
	MaxColumns int    // wide-table split threshold; <=0 uses table.Split's default
}

// Loader orchestrates one ingestion run.
type Loader struct {
	Catalog  catalog.Catalog
	Tables   *table.Loader
	Assets   assets.Store
	Notifier *notify.Notifier
}

// Result summarises a completed load.
type Result struct {
	Name       string
	Version    string
	TableCount int
	RowCount   int64
}

// Load runs the full 8-step ingestion pipeline and registers the resulting
// schema in the catalog. now is injected so version assignment is
// deterministic and testable.
func (l *Loader) Load(ctx context.Context, opts Options, now time.Time) (*Result, error) {
	if err := ValidateInputVersion(opts.Version); err != nil {
		return nil, err
	}

	version := opts.Version
	if version == "" {
		existing, err := l.Catalog.List(ctx, opts.Name)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			return nil, err
		}
		version = NextVersion(mostRecentVersion(existing), now)
	} else {
		existing, err := l.Catalog.Lookup(ctx, opts.Name, version)
		if err == nil && existing != nil {
			return nil, apperr.New(apperr.Conflict, fmt.Sprintf("dataset version already exists: %s/%s", opts.Name, version))
		}
	}

	if l.Notifier != nil {
		l.Notifier.Started(ctx, opts.Name, version)
	}

	result, err := l.load(ctx, opts, version)

	if l.Notifier != nil {
		l.Notifier.Completed(ctx, opts.Name, version, err)
	}
	return result, err
}

func (l *Loader) load(ctx context.Context, opts Options, version string) (*Result, error) {
	// Step 1: read the package directory and derive the schema shape.
	resources, err := discoverResources(opts.Dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.SchemaValidation, "read package directory", err)
	}

	sch := schema.New()
	conceptRes, entityGroups, datapointGroups := groupResources(resources)

	// Step 2 (translation discovery) is folded into grouping: each group
	// already separates its base-language resource from per-language ones.

	// Step 3: load concepts, and step 4: populate the entity-set -> domain
	// map from it.
	var tableCount int
	var rowCount int64
	if conceptRes.base != nil {
		t, n, err := l.loadConceptsTable(ctx, *conceptRes.base, conceptRes.translations, opts.MaxColumns)
		if err != nil {
			return nil, err
		}
		sch.Concepts[schema.KeyString(t.Key)] = t
		tableCount++
		rowCount += n
		if err := populateEntitySetDomain(sch, conceptRes.base.path); err != nil {
			return nil, err
		}
	}

	// Step 5: load entity domains, step 6: load datapoint tables. Distinct
	// domains/key-groups touch disjoint physical tables, so they load
	// concurrently; the MySQL pool's own connection cap bounds fan-out.
	g, gctx := errgroup.WithContext(ctx)
	type tableResult struct {
		key   string
		table *schema.Table
		kind  schema.From
		rows  int64
	}
	results := make(chan tableResult, len(entityGroups)+len(datapointGroups))

	for domain, grp := range entityGroups {
		domain, grp := domain, grp
		g.Go(func() error {
			t, n, err := l.loadEntityTable(gctx, domain, grp, opts.MaxColumns)
			if err != nil {
				return err
			}
			results <- tableResult{key: schema.KeyString(t.Key), table: t, kind: schema.FromEntities, rows: n}
			return nil
		})
	}
	for _, grp := range datapointGroups {
		grp := grp
		g.Go(func() error {
			t, n, err := l.loadDatapointTable(gctx, grp.key, grp, opts.MaxColumns)
			if err != nil {
				return err
			}
			results <- tableResult{key: schema.KeyString(t.Key), table: t, kind: schema.FromDatapoints, rows: n}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for r := range results {
		switch r.kind {
		case schema.FromEntities:
			sch.Entities[r.key] = r.table
		case schema.FromDatapoints:
			sch.Datapoints[r.key] = r.table
		}
		tableCount++
		rowCount += r.rows
	}

	// Step 7: upload assets/.
	if err := l.uploadAssets(ctx, opts, version); err != nil {
		return nil, err
	}

	// Step 8: persist schema + catalog mark, optional publish.
	definition, err := sch.Marshal()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal schema", err)
	}
	rec := &catalog.DatasetRecord{
		Name:       opts.Name,
		Version:    version,
		Definition: definition,
		Imported:   time.Now().UTC(),
	}
	if opts.Password != "" {
		rec.PasswordHash = hashPassword(opts.Password)
	}
	if err := l.Catalog.InsertNew(ctx, rec); err != nil {
		return nil, err
	}
	if opts.Publish {
		if err := l.Catalog.MarkDefault(ctx, opts.Name, version); err != nil {
			return nil, err
		}
	} else if err := l.Catalog.EnsureDefault(ctx, opts.Name, version); err != nil {
		return nil, err
	}

	return &Result{Name: opts.Name, Version: version, TableCount: tableCount, RowCount: rowCount}, nil
}

func (l *Loader) uploadAssets(ctx context.Context, opts Options, version string) error {
	if l.Assets == nil {
		return nil
	}
	assetsDir := filepath.Join(opts.Dir, "assets")
	entries, err := os.ReadDir(assetsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "read assets directory", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "stat asset "+e.Name(), err)
		}
		f, err := os.Open(filepath.Join(assetsDir, e.Name()))
		if err != nil {
			return apperr.Wrap(apperr.Internal, "open asset "+e.Name(), err)
		}
		err = l.Assets.Put(ctx, opts.Name, version, e.Name(), f, info.Size())
		f.Close()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "upload asset "+e.Name(), err)
		}
	}
	return nil
}

func mostRecentVersion(records []*catalog.DatasetRecord) string {
	if len(records) == 0 {
		return ""
	}
	sorted := append([]*catalog.DatasetRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Imported.After(sorted[j].Imported) })
	return sorted[0].Version
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func physicalBaseName(kind, key []string) string {
	return table.PhysicalName(kind[0] + "_" + strings.Join(key, "_"))
}
