// Package handler serves the pages and the JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/ledger"
)

const maxBodyBytes = 1 << 20

// Messages shown for failures that have no more specific text.
const (
	msgSessionExpired = "Your session has expired. Please sign in again."
	msgNotOwner       = "You can only change schedules you created."
	msgUnreachable    = "Could not reach the server. Try again."
	msgBackendError   = "The server could not complete the request."
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

var errNotJSON = errors.New("content type must be application/json")

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// decodeJSON reads a JSON body. Other content types are refused so a plain
// cross-site form cannot reach the API.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if !isJSON(r) {
		return errNotJSON
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// failure maps a service or backend error to a status and a message for
// the user.
func failure(err error) (int, string) {
	var se *api.StatusError
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized, msgSessionExpired
	case errors.Is(err, calendar.ErrNotOwner):
		return http.StatusForbidden, msgNotOwner
	case errors.Is(err, calendar.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ledger.ErrReadOnly):
		return http.StatusForbidden, ledger.ReadOnlyBanner
	case errors.Is(err, calendar.ErrInvalidDraft), errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &se):
		if se.Message != "" {
			return http.StatusBadGateway, se.Message
		}
		return http.StatusBadGateway, msgBackendError
	default:
		return http.StatusBadGateway, msgUnreachable
	}
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotJSON) {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON")
}

func writeFailure(w http.ResponseWriter, err error) {
	status, msg := failure(err)
	writeError(w, status, msg)
}
