// Package middleware enforces GraphQL admission control: depth and cost
// limits, the introspection guard and the per-client cost budget.
package middleware

import "errors"

// Admission rejections. Their messages are returned to clients verbatim.
var (
	// ErrDepthExceeded is returned when an operation is nested deeper than allowed.
	ErrDepthExceeded = errors.New("operation depth exceeded limit")

	// ErrCostExceeded is returned when an operation costs more than allowed.
	ErrCostExceeded = errors.New("operation cost exceeded limit")

	// ErrIntrospectionDisabled is returned when an operation selects
	// __schema or __type while introspection is disabled.
	ErrIntrospectionDisabled = errors.New("introspection is disabled")

	// ErrBudgetExhausted is returned when a client has spent its cost budget.
	ErrBudgetExhausted = errors.New("operation cost budget exhausted")

	// ErrInvalidRequest is returned when the HTTP request carries no usable
	// GraphQL request.
	ErrInvalidRequest = errors.New("invalid GraphQL request")
)
