package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/gapminder/ddf-server/internal/apperr"
)

func TestStore_PutThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "population", "v1", "notes.txt", strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.Open(ctx, "population", "v1", "notes.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected round-tripped content, got %q", data)
	}
}

func TestStore_OpenMissingAssetReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Open(context.Background(), "population", "v1", "missing.txt")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStore_URLIsEmpty(t *testing.T) {
	s, _ := New(t.TempDir())
	if got := s.URL("a", "b", "c"); got != "" {
		t.Errorf("expected empty URL for local store, got %q", got)
	}
}
