// Package middleware resolves the caller identity for HTTP requests on top
// of authcore.Engine.
//
// # Chain
//
//   - [ClientIP] records the caller address used by throttles and audit events.
//   - [Gate] turns an X-API-Key header (API prefix only) or a bearer access
//     token into an authcore.Identity in the request context.
//   - [RequireIdentity] rejects anonymous requests on routes that need a caller.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Key lookup,
// hash checks and token parsing all happen in the Engine; the gate only
// decides between reject, identify and pass through anonymously.
package middleware
