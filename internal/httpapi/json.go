// Package httpapi wires the scoreboard's HTTP surface: registration/auth,
// the read/write scoreboard endpoints, cache administration, health, and
// the /ws upgrade.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"scoreboard/internal/errs"
)

// envelope is the shared {success, data?, error?} response shape.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, code, msg string, retryAfter float64) {
	writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: msg, RetryAfter: retryAfter}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// writeAPIError maps an internal/errs kind (or a plain error) to the HTTP
// status + code table used across every endpoint.
func writeAPIError(w http.ResponseWriter, op string, err error) {
	var rl errs.RateLimitedError
	if errors.As(err, &rl) {
		writeErr(w, http.StatusTooManyRequests, "RATE_LIMITED", rl.Error(), rl.RetryAfter)
		return
	}

	switch {
	case errs.IsMissingFields(err):
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", err.Error(), 0)
	case errs.IsInvalidIncrement(err):
		writeErr(w, http.StatusBadRequest, "INVALID_SCORE_INCREMENT", err.Error(), 0)
	case errs.IsInvalidActionHash(err):
		writeErr(w, http.StatusUnauthorized, "INVALID_ACTION_HASH", err.Error(), 0)
	case errs.IsInvalidToken(err):
		writeErr(w, http.StatusUnauthorized, "INVALID_TOKEN", err.Error(), 0)
	case errs.IsDuplicateAction(err):
		writeErr(w, http.StatusConflict, "DUPLICATE_ACTION", err.Error(), 0)
	case errs.IsUserNotFound(err):
		writeErr(w, http.StatusNotFound, "USER_NOT_FOUND", err.Error(), 0)
	case errs.IsConflict(err):
		writeErr(w, http.StatusConflict, "CONFLICT", err.Error(), 0)
	case errs.IsBackendUnavailable(err):
		writeErr(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", err.Error(), 0)
	default:
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error(), 0)
	}
}
