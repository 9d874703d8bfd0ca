package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/prudhvinik1/edgecall/internal/services"
	"github.com/rs/zerolog/log"
)

const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeInternal     = "internal"
)

var errBadRequest = errors.New("malformed request")

// classify maps an error to its HTTP status and client-facing code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, services.ErrNotMember), errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, repositories.ErrNotFound), errors.Is(err, services.ErrCallNotActive):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, services.ErrCallAlreadyActive),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrCallContention):
		return http.StatusConflict, codeConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// errorPayload hides internal failure details from clients.
func errorPayload(event string, err error) models.ErrorPayload {
	_, code := classify(err)
	msg := err.Error()
	if code == codeInternal {
		msg = "internal error"
	}
	return models.ErrorPayload{Event: event, Code: code, Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response body")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorPayload("", err))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
