package middleware

import (
	"encoding/json"
	"net/http"
)

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ErrorResponse is a GraphQL response carrying only errors.
type ErrorResponse struct {
	Errors []GraphQLError `json:"errors"`
}

// NewErrorResponse builds a response with one error carrying code.
func NewErrorResponse(message, code string) ErrorResponse {
	return ErrorResponse{Errors: []GraphQLError{{
		Message:    message,
		Extensions: map[string]any{"code": code},
	}}}
}

// WriteGraphQLError writes a GraphQL-shaped JSON error with status.
func WriteGraphQLError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(message, code))
}
