package utilities

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Respond wraps data and message in an APIResponse.
func Respond(w http.ResponseWriter, status int, data any, message string) {
	if message == "" {
		message = "success"
	}
	WriteJSON(w, status, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	})
}
