// Package stores persists short-lived, single-use token records in Redis:
// email verification tokens, password reset tokens and OAuth state values.
//
// Each record is a versioned binary blob keyed by a random identifier and
// guarded by the SHA-256 of a separate secret. Consume runs inside a
// WATCH/MULTI transaction so a record can be redeemed at most once, and
// secret comparison is constant time.
//
// This package owns persistence only. It does not mint tokens, rate limit
// or decide what a redeemed token means.
package stores
