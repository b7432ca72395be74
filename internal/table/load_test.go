package table

import (
	"context"
	"testing"
)

func TestOnDuplicateUpdateClause(t *testing.T) {
	got := onDuplicateUpdateClause([]string{"name", "population"})
	want := "`name` = VALUES(`name`), `population` = VALUES(`population`)"
	if got != want {
		t.Errorf("onDuplicateUpdateClause = %q, want %q", got, want)
	}
}

func TestOnDuplicateUpdateClause_Single(t *testing.T) {
	got := onDuplicateUpdateClause([]string{"geo"})
	want := "`geo` = VALUES(`geo`)"
	if got != want {
		t.Errorf("onDuplicateUpdateClause = %q, want %q", got, want)
	}
}

func TestQuoteIdentList(t *testing.T) {
	got := quoteIdentList([]string{"geo", "time", "is--country"})
	want := []string{"`geo`", "`time`", "`is--country`"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNewLoader_WrapsDB(t *testing.T) {
	l := NewLoader(nil)
	if l.DB() != nil {
		t.Error("expected DB() to return the nil pool unchanged")
	}
}

func TestDropTables_NoopOnEmptyList(t *testing.T) {
	l := NewLoader(nil)
	if err := l.DropTables(context.Background(), nil); err != nil {
		t.Errorf("expected no error dropping an empty table list, got %v", err)
	}
}
