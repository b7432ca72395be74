package schema

import "testing"

func TestKeyStringSortsComponents(t *testing.T) {
	if got, want := KeyString([]string{"time", "geo"}), "geo$time"; got != want {
		t.Errorf("KeyString = %q, want %q", got, want)
	}
}

func TestIsTimeDomainKey(t *testing.T) {
	if !IsTimeDomainKey([]string{"year"}) {
		t.Error("year should be a time-domain key")
	}
	if IsTimeDomainKey([]string{"geo"}) {
		t.Error("geo should not be a time-domain key")
	}
	if IsTimeDomainKey([]string{"year", "geo"}) {
		t.Error("multi-component key should not be a time-domain key")
	}
}

func TestResolveDomainAndJoinTable(t *testing.T) {
	s := New()
	s.EntitySetDomain["country"] = "geo"
	s.Entities[KeyString([]string{"geo"})] = &Table{
		Key:            []string{"geo"},
		PhysicalTables: []string{"entities_geo"},
		ValueColumns:   []string{"name", "latitude"},
		EntitySets:     []string{"country"},
	}

	domain, ok := s.ResolveDomain("country")
	if !ok || domain != "geo" {
		t.Fatalf("ResolveDomain(country) = %q, %v, want geo, true", domain, ok)
	}

	table, resolved, err := s.ResolveJoinTable("country")
	if err != nil {
		t.Fatalf("ResolveJoinTable: %v", err)
	}
	if resolved != "geo" {
		t.Errorf("resolved domain = %q, want geo", resolved)
	}
	if len(table.PhysicalTables) != 1 || table.PhysicalTables[0] != "entities_geo" {
		t.Errorf("unexpected table: %+v", table)
	}
}

func TestQueryRowsSchemaSynthesis(t *testing.T) {
	s := New()
	s.Concepts[KeyString([]string{"concept"})] = &Table{
		Key:          []string{"concept"},
		ValueColumns: []string{"name", "description"},
	}

	rows, err := s.QueryRows(FromConceptsSchema)
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Value != "description" || rows[1].Value != "name" {
		t.Errorf("rows not sorted by value: %+v", rows)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := New()
	s.Datapoints[KeyString([]string{"geo", "time"})] = &Table{
		Key:            []string{"geo", "time"},
		PhysicalTables: []string{"datapoints_geo_time"},
		ValueColumns:   []string{"population"},
	}

	raw, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back.PhysicalTables()) != 1 || back.PhysicalTables()[0] != "datapoints_geo_time" {
		t.Errorf("round trip lost physical table names: %+v", back.PhysicalTables())
	}
}

func TestTranslatedColumn(t *testing.T) {
	tbl := &Table{
		ValueColumns: []string{"description"},
		Translations: map[string][]string{"fi-FI": {"description"}},
	}
	col, ok := tbl.TranslatedColumn("description", "fi-FI")
	if !ok || col != "description--fi-FI" {
		t.Errorf("TranslatedColumn = %q, %v, want description--fi-FI, true", col, ok)
	}
	col, ok = tbl.TranslatedColumn("description", "sv-SE")
	if ok || col != "description" {
		t.Errorf("TranslatedColumn fallback = %q, %v, want description, false", col, ok)
	}
}
