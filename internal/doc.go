// Package internal holds helpers private to authgate: reset-token
// generation and hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators behind every Engine operation
//   - rate: Redis fixed-window throttles
//   - stores: Redis revocation list
//   - config, logger, telemetry: service bootstrap for cmd/authgate
package internal
