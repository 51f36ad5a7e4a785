package authgate

import "github.com/erpcore/authgate/autherr"

// Error is the single error type returned by Engine methods.
type Error = autherr.Error

// Re-exported so callers of the root package need not import autherr.
var (
	ErrNoToken            = autherr.ErrNoToken
	ErrInvalidFormat      = autherr.ErrInvalidFormat
	ErrTokenExpired       = autherr.ErrTokenExpired
	ErrInvalidToken       = autherr.ErrInvalidToken
	ErrTokenRevoked       = autherr.ErrTokenRevoked
	ErrNoRole             = autherr.ErrNoRole
	ErrInvalidRole        = autherr.ErrInvalidRole
	ErrAccountLocked      = autherr.ErrAccountLocked
	ErrInvalidCredentials = autherr.ErrInvalidCredentials
	ErrInvalidResetToken  = autherr.ErrInvalidResetToken
	ErrInvalidRequest     = autherr.ErrInvalidRequest
	ErrWeakPassword       = autherr.ErrWeakPassword
	ErrEmailTaken         = autherr.ErrEmailTaken
	ErrNotFound           = autherr.ErrNotFound
	ErrRateLimited        = autherr.ErrRateLimited
	ErrUnavailable        = autherr.ErrUnavailable
	ErrInternal           = autherr.ErrInternal
)
