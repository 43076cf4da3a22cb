package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by the store when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken covers malformed, forged and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Error codes returned alongside 4xx responses so callers can tell apart
// failures that share a status.
const (
	codeValidation        = "validation_error"
	codeUserNotFound      = "user_not_found"
	codeIncorrectPassword = "incorrect_password"
	codeNotFound          = "not_found"
	codeTooLarge          = "payload_too_large"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body. The cause is logged with the request
// logger and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, status int, body errorResponse, cause error) {
	if cause != nil {
		logger := zerolog.Ctx(r.Context())
		var ev *zerolog.Event
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		} else {
			ev = logger.Warn()
		}
		ev.Err(cause).
			Int("status", status).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(body.Error)
	}
	writeJSON(w, status, body)
}

func writeInternal(w http.ResponseWriter, r *http.Request, msg string, cause error) {
	writeError(w, r, http.StatusInternalServerError, errorResponse{Error: msg}, cause)
}

func writeValidation(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	writeError(w, r, http.StatusBadRequest, errorResponse{
		Error:  "Datos inválidos",
		Code:   codeValidation,
		Fields: fields,
	}, nil)
}
