// Package internal holds helpers private to authcore, chiefly the opaque
// id/secret token codec used for verification, reset and OAuth state values.
//
// Sub-packages:
//
//   - limiters: Redis fixed-window request throttles
//   - stores: Redis single-use token records
//   - logger: slog construction and request-scoped log context
//   - tracing: OpenTelemetry tracer provider setup
package internal
