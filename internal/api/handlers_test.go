package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/catalog/memcat"
	"github.com/gapminder/ddf-server/internal/schema"
)

func schemaDefinition(t *testing.T) []byte {
	t.Helper()
	sch := schema.New()
	sch.Entities["geo"] = &schema.Table{
		Key:            []string{"geo"},
		PhysicalTables: []string{"wide_entities_geo"},
		ValueColumns:   []string{"name"},
		Domain:         "geo",
	}
	raw, err := sch.Marshal()
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	return raw
}

func newTestHandler(t *testing.T, records ...*catalog.DatasetRecord) (*Handler, *memcat.Store) {
	t.Helper()
	store := memcat.New()
	for _, rec := range records {
		if err := store.InsertNew(context.Background(), rec); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
	h := NewHandler(HandlerConfig{Catalog: store})
	return h, store
}

func chiRequest(method, target string, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandler_List(t *testing.T) {
	h, _ := newTestHandler(t, &catalog.DatasetRecord{
		Name: "population", Version: "v1", Imported: time.Now(), IsDefault: true, Definition: schemaDefinition(t),
	})
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []listEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "population" || !entries[0].Default {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestHandler_ResolveVersion_RedirectsToDefault(t *testing.T) {
	h, _ := newTestHandler(t, &catalog.DatasetRecord{
		Name: "population", Version: "v2", Imported: time.Now(), IsDefault: true, Definition: schemaDefinition(t),
	})
	rec := httptest.NewRecorder()
	req := chiRequest(http.MethodGet, "/population", map[string]string{"name": "population"})
	h.ResolveVersion(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/population/v2" {
		t.Errorf("unexpected Location: %s", loc)
	}
}

func TestHandler_ResolveVersion_UnknownNameErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := chiRequest(http.MethodGet, "/missing", map[string]string{"name": "missing"})
	h.ResolveVersion(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Directory(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.Directory(rec, httptest.NewRequest(http.MethodGet, "/ddf-service-directory", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body directoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.List != "/" {
		t.Errorf("unexpected directory body: %+v", body)
	}
}

func TestHandler_LoaderIOToken(t *testing.T) {
	h := NewHandler(HandlerConfig{LoaderToken: "abc123"})
	rec := httptest.NewRecorder()
	h.LoaderIOToken(rec, httptest.NewRequest(http.MethodGet, "/abc123.txt", nil))

	if rec.Body.String() != "abc123" {
		t.Errorf("expected token body abc123, got %q", rec.Body.String())
	}
}

func TestHandler_Query_SchemaQueryBypassesTableLoader(t *testing.T) {
	h, _ := newTestHandler(t, &catalog.DatasetRecord{
		Name: "population", Version: "v1", Imported: time.Now(), IsDefault: true, Definition: schemaDefinition(t),
	})
	rec := httptest.NewRecorder()
	req := chiRequest(http.MethodGet, "/population/v1?select[key][]=key&select[value][]=value&from=entities.schema",
		map[string]string{"name": "population", "version": "v1"})
	req.URL.RawQuery = "select[key][]=key&select[value][]=value&from=entities.schema"
	h.Query(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Version string          `json:"version"`
		Rows    [][]interface{} `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Version != "v1" {
		t.Errorf("expected version v1, got %s", body.Version)
	}
	if len(body.Rows) == 0 {
		t.Errorf("expected at least one schema row describing the geo entity table")
	}
}

func TestHandler_Query_UnauthorizedWithoutCredentials(t *testing.T) {
	h, _ := newTestHandler(t, &catalog.DatasetRecord{
		Name: "population", Version: "v1", Imported: time.Now(), IsDefault: true,
		Definition: schemaDefinition(t), PasswordHash: "deadbeef",
	})
	rec := httptest.NewRecorder()
	req := chiRequest(http.MethodGet, "/population/v1?select[key][]=key&select[value][]=value&from=entities.schema",
		map[string]string{"name": "population", "version": "v1"})
	req.URL.RawQuery = "select[key][]=key&select[value][]=value&from=entities.schema"
	h.Query(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
