// Package authcore is the authentication core of the modforge content
// platform: password accounts with email verification and reset, TOTP
// two-factor login, typed JWT access/refresh/pre-auth tokens, API keys and
// federated (OAuth) identities.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// authcore owns credential semantics only. Accounts and API keys are
// persisted behind [AccountStore] and [APIKeyStore]; single-use tokens,
// OAuth state and rate limits live in Redis. Message delivery is delegated
// to a [Notifier]. HTTP concerns live in the middleware and httpapi
// packages, which depend on authcore and never the other way round.
package authcore
