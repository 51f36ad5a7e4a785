// Package jwt issues and verifies the HS256 access/refresh token pairs used by
// authgate. Verification pins the algorithm, requires exp and reports expiry,
// bad signatures and malformed input as distinct errors.
package jwt
