package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/assets"
	"github.com/gapminder/ddf-server/internal/cache"
	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/query"
	"github.com/gapminder/ddf-server/internal/schema"
	"github.com/gapminder/ddf-server/internal/table"
)

// Handler serves the dataset directory, query, and asset endpoints.
type Handler struct {
	catalog      catalog.Catalog
	tables       *table.Loader
	assetStore   assets.Store
	schemas      *cache.DatasetSchemaCache
	compiled     *cache.CompiledQueryCache
	admission    *Admission
	cachingAllow bool
	loaderToken  string
}

// HandlerConfig collects the dependencies Handler needs, mirroring the
// shape Server assembles them in.
type HandlerConfig struct {
	Catalog            catalog.Catalog
	Tables             *table.Loader
	AssetStore         assets.Store
	SchemaCache        *cache.DatasetSchemaCache
	CompiledQueryCache *cache.CompiledQueryCache
	Admission          *Admission
	CachingAllow       bool
	LoaderToken        string
}

// NewHandler builds a Handler from its dependencies.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		catalog:      cfg.Catalog,
		tables:       cfg.Tables,
		assetStore:   cfg.AssetStore,
		schemas:      cfg.SchemaCache,
		compiled:     cfg.CompiledQueryCache,
		admission:    cfg.Admission,
		cachingAllow: cfg.CachingAllow,
		loaderToken:  cfg.LoaderToken,
	}
}

// listEntry is one row of the GET / directory listing.
type listEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Default bool   `json:"default,omitempty"`
}

// List handles GET / — every known (name, version), newest import first
// within a name, flagging whichever version is currently default.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.catalog.Names(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var entries []listEntry
	for _, name := range names {
		records, err := h.catalog.List(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, rec := range records {
			entries = append(entries, listEntry{Name: rec.Name, Version: rec.Version, Default: rec.IsDefault})
		}
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, entries)
}

// ResolveVersion handles GET /:name — it resolves the dataset's default (or
// latest) version and redirects to the version-qualified URL, preserving
// the query string verbatim so the eventual response is cache-key-stable.
func (h *Handler) ResolveVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := h.catalog.Lookup(r.Context(), name, "")
	if err != nil {
		writeError(w, err)
		return
	}
	target := fmt.Sprintf("/%s/%s", url.PathEscape(name), url.PathEscape(rec.Version))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.Redirect(w, r, target, http.StatusFound)
}

// Query handles GET /:name/:version — the query execution endpoint.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	if h.admission != nil {
		if err := h.admission.Admit(); err != nil {
			writeError(w, err)
			return
		}
	}

	rec, err := h.catalog.Lookup(r.Context(), name, version)
	if err != nil {
		writeError(w, err)
		return
	}
	if !h.authorize(w, r, rec) {
		return
	}

	q, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := q.Validate(); err != nil {
		writeError(w, err)
		return
	}

	var isSchemaQuery bool
	var schemaRows []schema.SchemaRow
	var header, info, warn []string
	var sqlText string
	var args []interface{}

	var cached *cache.CompiledQuery
	var cacheHit bool
	if h.compiled != nil {
		cached, cacheHit = h.compiled.Get(rec.Name, rec.Version, r.URL.RawQuery)
	}

	if cacheHit {
		header = cached.Header
		sqlText, args = cached.SQL, cached.Args
	} else {
		sch, err := h.loadSchema(r.Context(), rec)
		if err != nil {
			writeError(w, err)
			return
		}
		plan, err := query.Compile(sch, q)
		if err != nil {
			writeError(w, err)
			return
		}
		isSchemaQuery = plan.IsSchemaQuery
		schemaRows = plan.SchemaRows
		header, info, warn = plan.Header, plan.Info, plan.Warnings

		if !isSchemaQuery {
			sqlText, args, err = table.BuildSelect(plan)
			if err != nil {
				writeError(w, apperr.Wrap(apperr.Internal, "assemble query", err))
				return
			}
			if h.compiled != nil {
				h.compiled.Set(rec.Name, rec.Version, r.URL.RawQuery, &cache.CompiledQuery{SQL: sqlText, Args: args, Header: header})
			}
		}
	}

	h.setCacheHeaders(w, rec)

	if isSchemaQuery {
		_ = writeStream(w, r, &streamResponse{
			Version: rec.Version,
			Header:  header,
			Rows:    newSchemaRowStreamer(schemaRows),
			Info:    info,
			Warn:    warn,
		})
		return
	}

	release := func() {}
	if h.admission != nil {
		release = h.admission.AcquireQueueSlot()
	}
	rows, err := h.tables.Query(r.Context(), sqlText, args)
	release()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "execute query", err))
		return
	}
	defer rows.Close()

	streamer, err := newSQLRowStreamer(rows)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "read result columns", err))
		return
	}
	_ = writeStream(w, r, &streamResponse{
		Version: rec.Version,
		Header:  header,
		Rows:    streamer,
		Info:    info,
		Warn:    warn,
	})
}

// Asset handles GET /:name/:version/assets/:asset, redirecting to the
// store-issued URL, or streaming the asset through Open when the store
// issues no URL (the local store). version may be empty, in which case the dataset is
// resolved first and the redirect carries the resolved version (302
// instead of 301, since the target is not yet final).
func (h *Handler) Asset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	asset := chi.URLParam(r, "asset")

	status := http.StatusMovedPermanently
	if version == "" {
		rec, err := h.catalog.Lookup(r.Context(), name, "")
		if err != nil {
			writeError(w, err)
			return
		}
		version = rec.Version
		status = http.StatusFound
	}

	rec, err := h.catalog.Lookup(r.Context(), name, version)
	if err != nil {
		writeError(w, err)
		return
	}
	if !h.authorize(w, r, rec) {
		return
	}

	target := h.assetStore.URL(name, version, asset)
	if target == "" {
		body, err := h.assetStore.Open(r.Context(), name, version, asset)
		if err != nil {
			writeError(w, err)
			return
		}
		defer body.Close()
		_, _ = io.Copy(w, body)
		return
	}
	http.Redirect(w, r, target, status)
}

// directoryEntry describes the URL templates the directory endpoint
// advertises.
type directoryEntry struct {
	List   string `json:"list"`
	Query  string `json:"query"`
	Assets string `json:"assets"`
}

// Directory handles GET /ddf-service-directory.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, directoryEntry{
		List:   "/",
		Query:  "/DATASET/VERSION",
		Assets: "DATASET/VERSION/assets/ASSET",
	})
}

// LoaderIOToken serves the uptime-verification token at /<token>.txt when
// one is configured.
func (h *Handler) LoaderIOToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(h.loaderToken))
}

// authorize enforces per-dataset HTTP Basic auth when rec carries a
// password hash. It writes the 401 response itself on failure and
// returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, rec *catalog.DatasetRecord) bool {
	if !rec.Protected() {
		return true
	}
	_, password, ok := r.BasicAuth()
	sum := sha256.Sum256([]byte(password))
	if !ok || subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(rec.PasswordHash)) != 1 {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="Access to %s data", charset="UTF-8"`, rec.Name))
		writeError(w, apperr.New(apperr.Unauthorized, "credential required or invalid"))
		return false
	}
	return true
}

// setCacheHeaders applies the caching policy: immutable, tag-scoped caching
// for version-explicit queries on public datasets, no-store otherwise.
func (h *Handler) setCacheHeaders(w http.ResponseWriter, rec *catalog.DatasetRecord) {
	if h.cachingAllow && !rec.Protected() {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Cache-Tag", fmt.Sprintf("%s/%s", rec.Name, rec.Version))
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

// loadSchema unmarshals rec's schema definition, consulting the process
// schema cache first since a schema is immutable once published.
func (h *Handler) loadSchema(_ context.Context, rec *catalog.DatasetRecord) (*schema.Schema, error) {
	if h.schemas != nil {
		if cached, ok := h.schemas.Get(rec.Name, rec.Version); ok {
			return cached.(*schema.Schema), nil
		}
	}
	sch, err := schema.Unmarshal(rec.Definition)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode schema", err)
	}
	if h.schemas != nil {
		h.schemas.Set(rec.Name, rec.Version, sch)
	}
	return sch, nil
}

// parseQuery tries URL-object notation first, then falls back to treating
// the raw query string as percent-encoded JSON, matching the resolution
// order the query endpoint documents.
func parseQuery(rawQuery string) (*query.Query, error) {
	if q, err := query.ParseURLObject(rawQuery); err == nil {
		return q, nil
	}
	decoded, err := url.QueryUnescape(rawQuery)
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "query string is not valid percent-encoding", err)
	}
	q, err := query.ParseJSON([]byte(decoded))
	if err != nil {
		return nil, err
	}
	return q, nil
}
