// Package middleware adapts authgate.Engine to net/http.
//
// # Handlers
//
//   - [Guard] authenticates the bearer token and attaches the principal.
//   - [RequireRole] and [RequirePermission] gate on the attached principal.
//   - [SecurityHeaders], [RequestID], [ClientInfo], [AccessLog] and
//     [Recover] form the ambient chain every route runs through.
//
// Each middleware has the func(http.Handler) http.Handler shape and can be
// composed with [Chain].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// verify tokens itself: every decision is delegated to Engine.Validate and
// every failure is rendered with [WriteError] as the JSON error envelope.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis or the credential store.
//   - Fail open: a gate that finds no principal rejects the request.
package middleware
