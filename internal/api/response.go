// Package api defines the JSON envelope, the error vocabulary, and the
// pagination math shared by every HTTP endpoint. Handlers never write raw
// JSON themselves; everything goes through WriteSuccess or WriteError so
// the wire shape stays uniform.
package api

import (
	"encoding/json"
	"net/http"
)

const defaultSuccessMessage = "Operation successful"

type successEnvelope struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

type errorEnvelope struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	Details    any    `json:"details,omitempty"`
}

// WriteSuccess renders the success envelope. The HTTP status always
// mirrors the envelope's status_code. An empty message falls back to the
// standard one.
func WriteSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	if message == "" {
		message = defaultSuccessMessage
	}

	writeJSON(w, statusCode, successEnvelope{
		Status:     "success",
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
	})
}

// WriteError renders e as the standard error envelope.
func WriteError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, errorEnvelope{
		Status:     "error",
		StatusCode: e.Status,
		Message:    e.Message,
		ErrorCode:  e.Code,
		Details:    e.Details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
