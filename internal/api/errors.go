package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/gapminder/ddf-server/internal/apperr"
)

// errorResponse is the JSON body written for any failed request.
type errorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err as a JSON error body, mapping its apperr.Kind to
// both the HTTP status line and a stable numeric error_code clients can
// switch on without parsing the message.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	writeJSON(w, status, errorResponse{
		ErrorCode: errorCode(apperr.KindOf(err)),
		Message:   err.Error(),
	})
}

// errorCode assigns each apperr.Kind a stable numeric code, independent of
// the HTTP status (several kinds share 400/503 on the wire).
func errorCode(kind apperr.Kind) int {
	switch kind {
	case apperr.QuerySyntax:
		return 40001
	case apperr.QuerySemantic:
		return 40002
	case apperr.SchemaValidation:
		return 40003
	case apperr.NotFound:
		return 40400
	case apperr.Unauthorized:
		return 40100
	case apperr.Busy:
		return 50300
	case apperr.Conflict:
		return 40900
	default:
		return 50000
	}
}
