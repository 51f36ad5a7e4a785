package audit

// Event types emitted by the engine.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailure          = "login_failure"
	EventLoginLocked           = "login_locked"
	EventAccountLocked         = "account_locked"
	EventLoginRateLimited      = "login_rate_limited"
	EventRefreshSuccess        = "refresh_success"
	EventRefreshFailure        = "refresh_failure"
	EventLogout                = "logout"
	EventPasswordResetRequest  = "password_reset_request"
	EventPasswordResetComplete = "password_reset_complete"
	EventPasswordChange        = "password_change"
	EventRegister              = "register"
	EventRoleChange            = "role_change"
	EventAccountUnlock         = "account_unlock"
	EventAccountDeactivate     = "account_deactivate"
)

// Failure reasons for EventLoginFailure and EventRefreshFailure.
const (
	ReasonUnknownIdentity  = "unknown_identity"
	ReasonPasswordMismatch = "password_mismatch"
	ReasonRevoked          = "revoked"
	ReasonInvalidToken     = "invalid_token"
	ReasonStalePassword    = "password_changed"
)
