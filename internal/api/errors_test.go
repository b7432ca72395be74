package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/gapminder/ddf-server/internal/apperr"
)

func TestWriteError_MapsKindToStatusAndCode(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   int
	}{
		{apperr.New(apperr.QuerySyntax, "bad query"), http.StatusBadRequest, 40001},
		{apperr.New(apperr.QuerySemantic, "bad query"), http.StatusBadRequest, 40002},
		{apperr.New(apperr.NotFound, "missing"), http.StatusNotFound, 40400},
		{apperr.New(apperr.Unauthorized, "nope"), http.StatusUnauthorized, 40100},
		{apperr.New(apperr.Busy, "overloaded"), http.StatusServiceUnavailable, 50300},
		{apperr.New(apperr.Conflict, "exists"), http.StatusConflict, 40900},
		{apperr.New(apperr.Internal, "boom"), http.StatusInternalServerError, 50000},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)

		if rec.Code != c.wantStatus {
			t.Errorf("%v: expected status %d, got %d", c.err, c.wantStatus, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.ErrorCode != c.wantCode {
			t.Errorf("%v: expected error_code %d, got %d", c.err, c.wantCode, body.ErrorCode)
		}
		if body.Message != c.err.Error() {
			t.Errorf("expected message %q, got %q", c.err.Error(), body.Message)
		}
	}
}

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
}
