// Package jwt mints and verifies the three token kinds used by authcore:
// access, refresh and mfa-pending pre-auth tokens. Every token carries a
// "typ" claim and every parse states which kind it expects, so a refresh
// token can never be replayed as a bearer credential.
package jwt
