// Package server provides the HTTP server for the thumbnail API.
// It includes handlers, middleware, routes, and response DTOs separated from domain types.
package server

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Details carries the underlying failure for processing errors.
	Details string `json:"details,omitempty"`
	// SupportedTypes lists the accepted MIME types on unsupported type errors.
	SupportedTypes []string `json:"supportedTypes,omitempty"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Codec is the codec session state, when known.
	Codec string `json:"codec,omitempty"`
}
