package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/obs"
	"clinvault.org/internal/records"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// decodeJSON parses the request body and writes the 400 itself, so handlers
// only need to bail out on a non-nil return.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleAuthError maps typed session failures to HTTP statuses. Unexpected
// dependency errors are logged and collapsed to a generic server error so
// internals never leak.
func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid credentials")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "user already exists")
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		writeError(w, http.StatusBadRequest, "invalid or expired token")
	case errors.Is(err, auth.ErrInvalidMFAToken):
		writeError(w, http.StatusBadRequest, "invalid mfa token")
	case errors.Is(err, auth.ErrEmailNotVerified):
		writeError(w, http.StatusUnauthorized, "please verify your email before logging in")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "account is locked, please contact an administrator")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		obs.LogError("auth handler error", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

func handleRecordsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, records.ErrForbidden):
		writeError(w, http.StatusForbidden, "only the owner can share this result")
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "test result not found")
	default:
		obs.LogError("records handler error", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
