// Package httpserver contains the HTTP handlers and middleware of the
// screening API: batch submission, working-file downloads, verdict
// diagnostics and the health endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStatus writes an error envelope with an explicit status and message.
func writeStatus(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message, Details: details}})
}

// errorStatuses maps domain errors to HTTP statuses, first match wins.
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
	{domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			status, code = m.status, m.code
			break
		}
	}
	writeStatus(w, status, code, err.Error(), details)
}

// acceptsJSON enforces JSON-only content negotiation on API responses.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || containsFold(a, "application/json") || containsFold(a, "application/*") {
		return true
	}
	writeStatus(w, http.StatusNotAcceptable, "INVALID_ARGUMENT", "not acceptable", map[string]any{"accept": a})
	return false
}
