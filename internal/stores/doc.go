// Package stores holds the Redis-backed revocation list.
//
// Tokens are never stored verbatim. Each revoked token becomes one key,
// prefix + ":" + hex(sha256(token)), that expires when the token would have
// expired anyway, so the list never outgrows the set of live tokens.
//
// This package makes no authentication decisions. Callers decide how to
// treat ErrRevocationUnavailable.
package stores
