// Package httputil centralizes JSON encoding and domain-error translation
// for the HTTP transport.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	derrors "landledger/pkg/domain-errors"
)

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a domain error onto an HTTP status and a stable JSON body.
// Non-domain errors are masked as internal failures so infrastructure detail
// never leaks to clients.
func WriteError(w http.ResponseWriter, err error) {
	var de *derrors.Error
	if !errors.As(err, &de) {
		de = derrors.New(derrors.CodeInternal, "internal error")
	}
	WriteJSON(w, statusOf(de.Code), errorBody{
		Error:  de.Message,
		Detail: de.Detail,
		Code:   string(de.Code),
	})
}

func statusOf(code derrors.Code) int {
	switch code {
	case derrors.CodeInvalidInput:
		return http.StatusBadRequest
	case derrors.CodeUnauthorized:
		return http.StatusForbidden
	case derrors.CodeNotFound:
		return http.StatusNotFound
	case derrors.CodeConflict, derrors.CodeDuplicate:
		return http.StatusConflict
	case derrors.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case derrors.CodeExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses the request body into T. On failure it writes a 400 response
// and returns false; handlers just return.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(r.Context(), "malformed request body", "error", err)
		WriteError(w, derrors.New(derrors.CodeInvalidInput, "malformed request body"))
		return req, false
	}
	return req, true
}
