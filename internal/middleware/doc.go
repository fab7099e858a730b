// Package middleware provides the transport-level HTTP middleware of the
// gqlguard public listener.
//
// # Middleware Components
//
//   - RequestID: request identifier injection
//   - Recovery: panic recovery with a GraphQL-shaped 500 response
//   - Logging: structured access logging, including admission results
//   - BodyLimit: request body size limiting
//   - ClientIPExtractor: trusted proxy-aware client identification
//
// GraphQL admission control lives in internal/graphql/middleware.
//
// # Usage
//
//	handler := middleware.Chain(proxy,
//	    middleware.RequestID(),
//	    middleware.Recovery(logger),
//	    middleware.Logging(logger),
//	)
package middleware
