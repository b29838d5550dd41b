// Package limiters provides Redis fixed-window request throttles for the
// unauthenticated, side-effecting auth endpoints: sign-in, registration,
// forgot-password and resend-verification.
//
// All limiters are nil-safe: calling Allow on a nil receiver returns nil.
// The package counts; callers decide what a limit means.
package limiters
