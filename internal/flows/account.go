package flows

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/audit"
)

const maxNameLength = 200

// RegisterInput is the flow-local registration request.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// AccountDeps captures registration, password change and admin dependencies.
// A wrong current password in ChangePassword counts against the same
// lockout budget as a failed login; a zero LockoutThreshold disables that.
type AccountDeps struct {
	Store            identity.Store
	Hasher           PasswordHasher
	LockoutThreshold int
	LockoutDuration  time.Duration
	StoreTimeout     time.Duration
	Observer         Observer
}

// RunRegister creates an active identity with role user.
func RunRegister(ctx context.Context, in RegisterInput, deps AccountDeps) (identity.Public, error) {
	obs := deps.Observer.normalize()

	email := identity.NormalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return identity.Public{}, autherr.ErrInvalidRequest.WithMessage("a valid email is required")
	}
	name := strings.TrimSpace(in.Name)
	if len(name) > maxNameLength {
		return identity.Public{}, autherr.ErrInvalidRequest.WithMessage("name is too long")
	}

	hash, err := deps.Hasher.Hash(in.Password)
	if err != nil {
		return identity.Public{}, passwordError(err)
	}

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()
	created, err := deps.Store.Create(sctx, identity.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         identity.RoleUser,
		Active:       true,
		CreatedAt:    obs.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return identity.Public{}, autherr.ErrEmailTaken
		}
		obs.Logger.Error("create identity", zap.Error(err))
		return identity.Public{}, storeError(err)
	}

	obs.MetricInc(obs.Metrics.Register)
	obs.emit(ctx, audit.Event{EventType: audit.EventRegister, UserID: created.ID, Email: email, Success: true})
	return created.Public(), nil
}

// RunChangePassword replaces the caller's password after re-checking the
// current one. Refresh tokens issued before the change stop working.
func RunChangePassword(ctx context.Context, subjectID, current, next string, deps AccountDeps) error {
	obs := deps.Observer.normalize()

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	ident, err := deps.Store.GetByID(sctx, subjectID)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return autherr.ErrInvalidToken
		}
		return storeError(err)
	}

	now := obs.Now()
	if ident.Locked(now) {
		obs.MetricInc(obs.Metrics.LoginLocked)
		obs.emit(ctx, audit.Event{EventType: audit.EventLoginLocked, UserID: ident.ID, Email: ident.Email})
		return autherr.ErrAccountLocked
	}

	ok, err := deps.Hasher.Verify(current, ident.PasswordHash)
	if err != nil {
		obs.Logger.Error("stored password hash unreadable", zap.String("user_id", ident.ID), zap.Error(err))
		return autherr.Internal(err)
	}
	if !ok {
		if err := recordPasswordMismatch(ctx, ident, now, deps, obs); err != nil {
			return err
		}
		obs.emit(ctx, audit.Event{EventType: audit.EventPasswordChange, UserID: ident.ID, Reason: audit.ReasonPasswordMismatch})
		return autherr.ErrInvalidCredentials
	}

	hash, err := deps.Hasher.Hash(next)
	if err != nil {
		return passwordError(err)
	}

	sctx, cancel = withTimeout(ctx, deps.StoreTimeout)
	err = deps.Store.UpdatePassword(sctx, ident.ID, hash, obs.Now())
	cancel()
	if err != nil {
		obs.Logger.Error("update password", zap.String("user_id", ident.ID), zap.Error(err))
		return storeError(err)
	}

	if ident.FailedLoginAttempts > 0 {
		sctx, cancel = withTimeout(ctx, deps.StoreTimeout)
		if err := deps.Store.Unlock(sctx, ident.ID); err != nil {
			obs.Logger.Warn("reset failed attempts", zap.String("user_id", ident.ID), zap.Error(err))
		}
		cancel()
	}

	obs.MetricInc(obs.Metrics.PasswordChange)
	obs.emit(ctx, audit.Event{EventType: audit.EventPasswordChange, UserID: ident.ID, Success: true})
	return nil
}

// recordPasswordMismatch counts a wrong current password like a failed
// login, locking the account once the threshold is reached.
func recordPasswordMismatch(ctx context.Context, ident identity.Identity, now time.Time, deps AccountDeps, obs Observer) error {
	if deps.LockoutThreshold <= 0 {
		return nil
	}
	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	failure, err := deps.Store.RecordLoginFailure(sctx, ident.ID, now, deps.LockoutThreshold, now.Add(deps.LockoutDuration))
	cancel()
	if err != nil {
		obs.Logger.Error("record password mismatch", zap.String("user_id", ident.ID), zap.Error(err))
		return storeError(err)
	}
	if failure.Attempts == deps.LockoutThreshold && failure.Locked(now) {
		obs.MetricInc(obs.Metrics.LockoutTriggered)
		obs.emit(ctx, audit.Event{
			EventType: audit.EventAccountLocked,
			UserID:    ident.ID,
			Success:   true,
			Metadata:  map[string]string{"lock_until": failure.LockUntil.UTC().Format(time.RFC3339)},
		})
	}
	return nil
}

// RunProfile returns the public projection of an authenticated subject. A
// subject that no longer resolves (deactivated since the token was issued)
// is treated as an invalid token.
func RunProfile(ctx context.Context, subjectID string, deps AccountDeps) (identity.Public, error) {
	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	ident, err := deps.Store.GetByID(sctx, subjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Public{}, autherr.ErrInvalidToken
		}
		return identity.Public{}, storeError(err)
	}
	return ident.Public(), nil
}

// RunUnlock clears the lockout of id.
func RunUnlock(ctx context.Context, actorID, id string, deps AccountDeps) error {
	return runAdmin(ctx, actorID, id, audit.EventAccountUnlock, nil, deps, func(ctx context.Context) error {
		return deps.Store.Unlock(ctx, id)
	})
}

// RunSetRole changes the role of id. Access tokens already issued keep
// their old role until they expire; the next refresh picks up the new one.
func RunSetRole(ctx context.Context, actorID, id, role string, deps AccountDeps) error {
	parsed, err := identity.ParseRole(role)
	if err != nil {
		return autherr.ErrInvalidRequest.WithMessage("unknown role")
	}
	meta := map[string]string{"role": string(parsed)}
	return runAdmin(ctx, actorID, id, audit.EventRoleChange, meta, deps, func(ctx context.Context) error {
		return deps.Store.UpdateRole(ctx, id, parsed)
	})
}

// RunDeactivate soft-deletes id.
func RunDeactivate(ctx context.Context, actorID, id string, deps AccountDeps) error {
	return runAdmin(ctx, actorID, id, audit.EventAccountDeactivate, nil, deps, func(ctx context.Context) error {
		return deps.Store.Deactivate(ctx, id)
	})
}

func runAdmin(ctx context.Context, actorID, id, event string, meta map[string]string, deps AccountDeps, op func(context.Context) error) error {
	obs := deps.Observer.normalize()
	if id == "" {
		return autherr.ErrInvalidRequest
	}

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()
	if err := op(sctx); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return autherr.ErrNotFound
		}
		obs.Logger.Error("admin operation failed", zap.String("event", event), zap.String("user_id", id), zap.Error(err))
		return storeError(err)
	}

	if meta == nil {
		meta = map[string]string{}
	}
	meta["actor_id"] = actorID
	obs.emit(ctx, audit.Event{EventType: event, UserID: id, Success: true, Metadata: meta})
	return nil
}
