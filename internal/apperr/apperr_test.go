package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	withCause := Wrap(Internal, "decode schema", errors.New("unexpected EOF"))
	if got := withCause.Error(); got != "internal: decode schema: unexpected EOF" {
		t.Errorf("unexpected error string: %s", got)
	}

	plain := New(NotFound, "dataset not found")
	if got := plain.Error(); got != "not_found: dataset not found" {
		t.Errorf("unexpected error string: %s", got)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(New(QuerySyntax, "bad")); got != QuerySyntax {
		t.Errorf("expected QuerySyntax, got %s", got)
	}
	if got := KindOf(errors.New("plain error")); got != Internal {
		t.Errorf("expected Internal for a non-apperr error, got %s", got)
	}
}

func TestKindOf_UnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", New(Busy, "overloaded"))
	if got := KindOf(wrapped); got != Busy {
		t.Errorf("expected Busy through fmt.Errorf wrapping, got %s", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		QuerySyntax:      http.StatusBadRequest,
		QuerySemantic:    http.StatusBadRequest,
		SchemaValidation: http.StatusBadRequest,
		NotFound:         http.StatusNotFound,
		Unauthorized:     http.StatusUnauthorized,
		Busy:             http.StatusServiceUnavailable,
		Conflict:         http.StatusConflict,
		Internal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(New(kind, "x")); got != want {
			t.Errorf("%s: expected status %d, got %d", kind, want, got)
		}
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for a non-apperr error, got %d", got)
	}
}

func TestIs(t *testing.T) {
	err := New(Conflict, "already exists")
	if !Is(err, Conflict) {
		t.Error("expected Is to match Conflict")
	}
	if Is(err, NotFound) {
		t.Error("expected Is not to match NotFound")
	}
}
