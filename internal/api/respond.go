package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"logviewer/internal/files"
)

// envelope is the shape of every successful JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Error: msg})
}

// statusFor maps file-access errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, files.ErrPathRequired), errors.Is(err, files.ErrIsDirectory):
		return http.StatusBadRequest
	case errors.Is(err, files.ErrOutsideRoot):
		return http.StatusForbidden
	case errors.Is(err, files.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, files.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
