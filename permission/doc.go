// Package permission maps roles to flat permission sets.
//
// Permission names are registered once in a [Registry], which assigns each a
// bit in a 64-bit [Mask]. A [RoleManager] stores one mask per role. Both are
// frozen before use, after which lookups take a read lock only.
//
// This package does no I/O and imports nothing else from authgate.
package permission
