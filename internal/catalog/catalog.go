// Package catalog manages the directory of published datasets: which
// (name, version) tuples exist, which version is the default for a name,
// and the metadata needed to serve or protect each one.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/schema"
)

// TokenAll is the reserved version token meaning "every version of name",
// accepted by Remove. TokenLatest is the reserved version token meaning
// "the most recently imported version of name", accepted by Lookup,
// MarkDefault and Remove. Neither is ever stored as an actual version.
const (
	TokenAll    = "_ALL_"
	TokenLatest = "latest"
)

// DatasetRecord is one row of the dataset catalog. Definition holds the
// dataset version's serialized schema.Schema, which the query handler
// decodes to compile queries and PhysicalTablesOf reads to find the
// backing tables.
type DatasetRecord struct {
	Name         string
	Version      string
	IsDefault    bool
	Definition   json.RawMessage
	Imported     time.Time
	PasswordHash string // sha256 hex digest, empty when the dataset is public
	Tags         map[string]string
}

// Protected reports whether the record requires a password to query.
func (d *DatasetRecord) Protected() bool {
	return d.PasswordHash != ""
}

// Catalog is the persistence interface the loader and query engine use to
// manage dataset versions. Implementations must make markDefault atomic
// with respect to concurrent lookups: a reader must never observe more than
// one default version for a given name. A name may have no default (see
// MarkDefault with TokenLatest), in which case Lookup falls back to the
// most recently imported version.
type Catalog interface {
	// List returns every known version of name, newest import first. It
	// returns apperr.NotFound-wrapped nil slice semantics are not used;
	// callers check len(result) == 0 for "name unknown".
	List(ctx context.Context, name string) ([]*DatasetRecord, error)

	// Lookup resolves one dataset version. version == "" resolves to the
	// name's default version, falling back to the most recently imported
	// version when none is default. version == TokenLatest always resolves
	// to the most recently imported version regardless of default.
	Lookup(ctx context.Context, name, version string) (*DatasetRecord, error)

	// Names returns every distinct dataset name in the catalog, sorted.
	Names(ctx context.Context) ([]string, error)

	// InsertNew adds a new (name, version) record. It is an error to insert
	// a version that already exists for name.
	InsertNew(ctx context.Context, rec *DatasetRecord) error

	// MarkDefault atomically flips the default flag for name from whatever
	// version currently holds it to version. version == TokenLatest clears
	// the existing default and leaves name without one.
	MarkDefault(ctx context.Context, name, version string) error

	// EnsureDefault marks version as default for name only if name
	// currently has no default version. Used by the loader after ingesting
	// the first version of a brand-new dataset.
	EnsureDefault(ctx context.Context, name, version string) error

	// Remove deletes the row(s) selected by version (a literal version, a
	// comma-separated list of literals, TokenAll for every version, or
	// TokenLatest for only the most recently imported version) and drops
	// their backing tables transactionally with the catalog row(s). It
	// returns the dropped table names. Removing the version that is both
	// most-recently-imported and the current default is rejected unless
	// version is exactly TokenAll.
	Remove(ctx context.Context, name, version string) ([]string, error)

	// Purge keeps the current default and any version imported after it
	// (or, absent a default, the two most recent versions) plus the version
	// immediately preceding that kept set, deletes every older version along
	// with its backing tables, and returns the dropped table names.
	Purge(ctx context.Context, name string) ([]string, error)

	// Close releases any resources held by the backend (pools, files).
	Close() error
}

// PhysicalTablesOf returns the backing table names declared by rec's schema
// definition, or nil if the definition is absent or unparseable. Backends
// call this to know what to drop when a version is removed.
func PhysicalTablesOf(rec *DatasetRecord) []string {
	if len(rec.Definition) == 0 {
		return nil
	}
	sch, err := schema.Unmarshal(rec.Definition)
	if err != nil {
		return nil
	}
	return sch.PhysicalTables()
}

// ResolveRemoval computes the concrete version list Remove(name, version)
// should delete, given every existing record for name ordered newest
// import first (as List returns them). It implements the removal contract:
// a literal version or comma-separated list removes exactly those
// versions; TokenAll removes every version; TokenLatest removes only the
// most recently imported version. Removing the most-recently-imported
// version while it is also the current default is rejected unless version
// is exactly TokenAll.
func ResolveRemoval(records []*DatasetRecord, version string) ([]string, error) {
	if len(records) == 0 {
		return nil, apperr.New(apperr.NotFound, "dataset not found")
	}
	if version == TokenAll {
		targets := make([]string, 0, len(records))
		for _, r := range records {
			targets = append(targets, r.Version)
		}
		return targets, nil
	}

	byVersion := make(map[string]*DatasetRecord, len(records))
	for _, r := range records {
		byVersion[r.Version] = r
	}

	var targets []string
	if version == TokenLatest {
		targets = []string{records[0].Version}
	} else {
		for _, v := range strings.Split(version, ",") {
			targets = append(targets, strings.TrimSpace(v))
		}
	}

	mostRecent := records[0]
	for _, v := range targets {
		rec, ok := byVersion[v]
		if !ok {
			return nil, apperr.New(apperr.NotFound, "dataset version not found: "+v)
		}
		if rec.Version == mostRecent.Version && rec.IsDefault {
			return nil, apperr.New(apperr.Conflict,
				"refusing to remove the default, most-recently-imported version without "+TokenAll)
		}
	}
	return targets, nil
}

// ResolveKeep computes the set of versions Purge(name) retains, given every
// existing record for name ordered newest import first. It keeps the
// current default and any version imported after it (or, absent a default,
// the two most recent versions) plus the version immediately preceding
// that kept set.
func ResolveKeep(records []*DatasetRecord) map[string]bool {
	keep := make(map[string]bool)
	if len(records) == 0 {
		return keep
	}

	defaultIdx := -1
	for i, r := range records {
		if r.IsDefault {
			defaultIdx = i
			break
		}
	}

	lastKept := 0
	if defaultIdx >= 0 {
		for i := 0; i <= defaultIdx; i++ {
			keep[records[i].Version] = true
		}
		lastKept = defaultIdx
	} else {
		for i := 0; i < len(records) && i < 2; i++ {
			keep[records[i].Version] = true
			lastKept = i
		}
	}
	if lastKept+1 < len(records) {
		keep[records[lastKept+1].Version] = true
	}
	return keep
}
