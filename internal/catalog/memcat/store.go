// Package memcat implements an in-memory catalog.Catalog, used in tests and
// for single-process demos where durability does not matter.
package memcat

import (
	"context"
	"sort"
	"sync"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/catalog"
)

func init() {
	catalog.Register(catalog.TypeMemory, func(_ map[string]interface{}) (catalog.Catalog, error) {
		return New(), nil
	})
}

// Store is a mutex-guarded map[name]map[version]*DatasetRecord.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]*catalog.DatasetRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string]*catalog.DatasetRecord)}
}

// sortedByImported renders versions as a slice ordered newest import first.
func sortedByImported(versions map[string]*catalog.DatasetRecord) []*catalog.DatasetRecord {
	out := make([]*catalog.DatasetRecord, 0, len(versions))
	for _, rec := range versions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Imported.After(out[j].Imported) })
	return out
}

func (s *Store) List(_ context.Context, name string) ([]*catalog.DatasetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.data[name]
	if !ok {
		return nil, nil
	}
	return sortedByImported(versions), nil
}

func (s *Store) Lookup(_ context.Context, name, version string) (*catalog.DatasetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.data[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	switch version {
	case "":
		for _, rec := range versions {
			if rec.IsDefault {
				return rec, nil
			}
		}
		return mostRecent(name, versions)
	case catalog.TokenLatest:
		return mostRecent(name, versions)
	default:
		rec, ok := versions[version]
		if !ok {
			return nil, apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
		}
		return rec, nil
	}
}

func mostRecent(name string, versions map[string]*catalog.DatasetRecord) (*catalog.DatasetRecord, error) {
	var best *catalog.DatasetRecord
	for _, rec := range versions {
		if best == nil || rec.Imported.After(best.Imported) {
			best = rec
		}
	}
	if best == nil {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	return best, nil
}

func (s *Store) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) InsertNew(_ context.Context, rec *catalog.DatasetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.data[rec.Name]
	if !ok {
		versions = make(map[string]*catalog.DatasetRecord)
		s.data[rec.Name] = versions
	}
	if _, exists := versions[rec.Version]; exists {
		return apperr.New(apperr.Conflict, "dataset version already exists: "+rec.Name+"/"+rec.Version)
	}
	cp := *rec
	versions[rec.Version] = &cp
	return nil
}

func (s *Store) MarkDefault(_ context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.data[name]
	if !ok {
		return apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	if version == catalog.TokenLatest {
		for _, rec := range versions {
			rec.IsDefault = false
		}
		return nil
	}
	target, ok := versions[version]
	if !ok {
		return apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
	}
	for _, rec := range versions {
		rec.IsDefault = false
	}
	target.IsDefault = true
	return nil
}

func (s *Store) EnsureDefault(_ context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.data[name]
	if !ok {
		return apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	for _, rec := range versions {
		if rec.IsDefault {
			return nil
		}
	}
	target, ok := versions[version]
	if !ok {
		return apperr.New(apperr.NotFound, "dataset version not found: "+name+"/"+version)
	}
	target.IsDefault = true
	return nil
}

func (s *Store) Remove(_ context.Context, name, version string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.data[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	targets, err := catalog.ResolveRemoval(sortedByImported(versions), version)
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, v := range targets {
		tables = append(tables, catalog.PhysicalTablesOf(versions[v])...)
		delete(versions, v)
	}
	if len(versions) == 0 {
		delete(s.data, name)
	}
	return tables, nil
}

func (s *Store) Purge(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.data[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "dataset not found: "+name)
	}
	keep := catalog.ResolveKeep(sortedByImported(versions))

	var tables []string
	for v, rec := range versions {
		if keep[v] {
			continue
		}
		tables = append(tables, catalog.PhysicalTablesOf(rec)...)
		delete(versions, v)
	}
	if len(versions) == 0 {
		delete(s.data, name)
	}
	return tables, nil
}

func (s *Store) Close() error { return nil }
