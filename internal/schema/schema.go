// Package schema holds the in-memory representation of a dataset's DDF
// schema: the concept table, per-entity-domain tables, per-key datapoint
// tables, translation columns, and the mapping from entity sets to the
// domains that back them. A Schema is built once by the loader and is
// read-only and safe to share across concurrent queries afterwards.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// timeDomainKeys are single-component keys that behave as an in-domain
// self-join rather than requiring a distinct entity table.
var timeDomainKeys = map[string]bool{
	"time": true, "year": true, "quarter": true, "month": true, "week": true, "day": true,
}

// IsTimeDomainKey reports whether key is a single time-like component.
func IsTimeDomainKey(key []string) bool {
	return len(key) == 1 && timeDomainKeys[key[0]]
}

// Table describes one schema entity: the table(s) backing it, the value
// columns it declares, the resources (source CSV files) that contributed
// rows, and, for entity tables, the domain concept it belongs to.
type Table struct {
	Key            []string `json:"key"`
	PhysicalTables []string `json:"physical_tables"`
	ValueColumns   []string `json:"value_columns"`
	Sources        []string `json:"sources,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	// EntitySets lists the entity sets merged into this table, each
	// contributing an is--<set> boolean column.
	EntitySets []string `json:"entity_sets,omitempty"`
	// Translations maps language tag -> value columns with a translation
	// present for that language.
	Translations map[string][]string `json:"translations,omitempty"`
}

// KeyString renders a sorted, $-joined key, the canonical map key used by
// Schema's three table maps and by cache keys for compiled queries.
func KeyString(key []string) string {
	sorted := append([]string(nil), key...)
	sort.Strings(sorted)
	return strings.Join(sorted, "$")
}

// Schema is the full in-memory description of one dataset version.
type Schema struct {
	Concepts   map[string]*Table `json:"concepts"`
	Entities   map[string]*Table `json:"entities"`
	Datapoints map[string]*Table `json:"datapoints"`
	// EntitySetDomain maps entity-set concept name -> owning domain name,
	// populated from the concepts table during ingestion (step 4 of the
	// loader pipeline).
	EntitySetDomain map[string]string `json:"entity_set_domain"`
}

// New returns an empty Schema ready for the loader to populate.
func New() *Schema {
	return &Schema{
		Concepts:        make(map[string]*Table),
		Entities:        make(map[string]*Table),
		Datapoints:      make(map[string]*Table),
		EntitySetDomain: make(map[string]string),
	}
}

// From identifies which of the three maps, or a schema-query variant, a
// `from` clause addresses.
type From string

const (
	FromConcepts          From = "concepts"
	FromEntities          From = "entities"
	FromDatapoints        From = "datapoints"
	FromConceptsSchema    From = "concepts.schema"
	FromEntitiesSchema    From = "entities.schema"
	FromDatapointsSchema  From = "datapoints.schema"
	FromAllSchema         From = "*.schema"
)

// IsSchemaQuery reports whether f addresses the synthetic in-memory stream
// rather than a physical table.
func (f From) IsSchemaQuery() bool {
	switch f {
	case FromConceptsSchema, FromEntitiesSchema, FromDatapointsSchema, FromAllSchema:
		return true
	}
	return false
}

// ParseFrom validates a raw `from` string against the closed vocabulary the
// query language accepts.
func ParseFrom(raw string) (From, error) {
	switch From(raw) {
	case FromConcepts, FromEntities, FromDatapoints,
		FromConceptsSchema, FromEntitiesSchema, FromDatapointsSchema, FromAllSchema:
		return From(raw), nil
	default:
		return "", fmt.Errorf("unsupported from clause: %q", raw)
	}
}

// baseMap returns the map backing one of the three non-schema from clauses.
func (s *Schema) baseMap(f From) (map[string]*Table, error) {
	switch f {
	case FromConcepts:
		return s.Concepts, nil
	case FromEntities:
		return s.Entities, nil
	case FromDatapoints:
		return s.Datapoints, nil
	default:
		return nil, fmt.Errorf("from clause %q has no backing table map", f)
	}
}

// ResolveDomain rewrites an entity-set key component to its owning domain.
// ok is false when name is not a known entity set, in which case name is
// returned unchanged (it may already be a domain or a plain concept).
func (s *Schema) ResolveDomain(name string) (domain string, ok bool) {
	domain, ok = s.EntitySetDomain[name]
	return
}

// ResolveTable looks up the table backing a key tuple within the given from
// clause. Entity-set components in key must already have been normalised to
// domains by the caller (see query.Compiler's rewrite pipeline, step 2).
func (s *Schema) ResolveTable(f From, key []string) (*Table, error) {
	m, err := s.baseMap(f)
	if err != nil {
		return nil, err
	}
	t, ok := m[KeyString(key)]
	if !ok {
		return nil, fmt.Errorf("no table for %s key %v", f, key)
	}
	return t, nil
}

// ResolveJoinTable looks up the entity or time-domain table a join binding
// on `on` (a single key component, possibly an entity set) resolves to.
func (s *Schema) ResolveJoinTable(on string) (*Table, string, error) {
	if IsTimeDomainKey([]string{on}) {
		t, err := s.ResolveTable(FromDatapoints, []string{on})
		if err == nil {
			return t, on, nil
		}
		return nil, on, fmt.Errorf("no base table carries time-domain key %q", on)
	}
	domain := on
	if d, ok := s.ResolveDomain(on); ok {
		domain = d
	}
	t, err := s.ResolveTable(FromEntities, []string{domain})
	if err != nil {
		return nil, domain, err
	}
	return t, domain, nil
}

// SchemaRow is one row of a synthetic `*.schema` response: a key tuple (as
// a single joined string, matching the source behaviour of emitting the key
// column textually) followed by the value column name.
type SchemaRow struct {
	Kind  string `json:"-"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryRows synthesises the in-memory stream for a `<kind>.schema` or
// `*.schema` from clause: one row per (key, value column) pair declared in
// the selected table map(s).
func (s *Schema) QueryRows(f From) ([]SchemaRow, error) {
	var kinds []From
	switch f {
	case FromConceptsSchema:
		kinds = []From{FromConcepts}
	case FromEntitiesSchema:
		kinds = []From{FromEntities}
	case FromDatapointsSchema:
		kinds = []From{FromDatapoints}
	case FromAllSchema:
		kinds = []From{FromConcepts, FromEntities, FromDatapoints}
	default:
		return nil, fmt.Errorf("%q is not a schema query", f)
	}

	var rows []SchemaRow
	for _, kind := range kinds {
		base, err := kind.baseMapOf(s)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(base))
		for k := range base {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t := base[k]
			keyLabel := strings.Join(t.Key, ",")
			values := append([]string(nil), t.ValueColumns...)
			sort.Strings(values)
			for _, v := range values {
				rows = append(rows, SchemaRow{Kind: string(kind), Key: keyLabel, Value: v})
			}
		}
	}
	return rows, nil
}

func (f From) baseMapOf(s *Schema) (map[string]*Table, error) { return s.baseMap(f) }

// Marshal serialises the schema for storage in the catalog's `definition`
// column.
func (s *Schema) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a schema previously produced by Marshal.
func Unmarshal(raw json.RawMessage) (*Schema, error) {
	s := New()
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("schema: unmarshal: %w", err)
	}
	return s, nil
}

// PhysicalTables returns every physical table name this schema references,
// across concepts, entities, and datapoints, used by catalog removal to
// know what to drop.
func (s *Schema) PhysicalTables() []string {
	var names []string
	for _, m := range []map[string]*Table{s.Concepts, s.Entities, s.Datapoints} {
		for _, t := range m {
			names = append(names, t.PhysicalTables...)
		}
	}
	sort.Strings(names)
	return names
}

// TranslatedColumn returns the virtual coalescing column name for column
// col in language lang, and whether t declares a translation for it.
func (t *Table) TranslatedColumn(col, lang string) (string, bool) {
	cols, ok := t.Translations[lang]
	if !ok {
		return col, false
	}
	for _, c := range cols {
		if c == col {
			return col + "--" + lang, true
		}
	}
	return col, false
}
