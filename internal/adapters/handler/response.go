// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIResponse is the standard envelope for admin/dashboard endpoints.
// Widget endpoints answer with the wire shapes the embed script expects
// and skip the envelope.
type APIResponse struct {
	Code    int         `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"` // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`    // Actual payload (can be null)
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    200,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// writeJSON serializes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeEnvelope wraps data in the standard envelope
func writeEnvelope(w http.ResponseWriter, code int, message string, data interface{}) {
	writeJSON(w, code, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// writeError writes an error envelope
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, NewErrorResponse(code, message))
}
