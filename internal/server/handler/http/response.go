package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
)

// maxJSONBody caps JSON request bodies below the router-wide body limit.
const maxJSONBody = 1 << 20

// envelope is the body of every JSON response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, msg string, fields envelope) {
	body := envelope{"success": true, "message": msg}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeError maps err to a status and a client-safe message. Storage and
// unexpected failures are logged and reported generically.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, envelope{"success": false, "message": msg})
}

func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, apperr.PublicMessage(err, "invalid request")
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, apperr.PublicMessage(err, "conflict")
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, apperr.PublicMessage(err, "not found")
	case errors.Is(err, apperr.ErrInvalidCode):
		return http.StatusBadRequest, "Invalid or expired code"
	case errors.Is(err, apperr.ErrInvalidCredential):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, apperr.ErrPendingApproval):
		return http.StatusForbidden, "Your account is pending administrator approval"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case errors.Is(err, apperr.ErrUpstream):
		return http.StatusBadGateway, "upstream service error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return apperr.Validation("invalid request body")
	}
	return nil
}
