// Package authgate is the session and authorization core of the ERP backend:
// HS256 access/refresh token pairs, optional Redis revocation, login with
// atomic lockout, password reset and role-based permission sets.
//
// Construct an [Engine] once at startup with [New] and [Builder.Build]; it
// is safe for concurrent use and keeps no identity or token state in
// process, so any number of instances may run behind a load balancer.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// [Principal] and the error taxonomy re-exported from autherr. Flow
// orchestration, Redis helpers and audit dispatch live under internal/.
// HTTP concerns (bearer extraction, cookies, security headers) live in the
// middleware and httpapi packages, which depend on this one and never the
// other way round.
//
// # Failure policy
//
// Every expected failure is an [*Error] with a stable code and HTTP status.
// When the revocation store or credential store cannot answer in time the
// decision fails closed with ErrUnavailable. Nothing is retried.
package authgate
