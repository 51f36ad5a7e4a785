package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/erpcore/authgate/identity"
)

var columns = []string{
	"id", "email", "name", "password_hash", "role", "active", "failed_login_attempts",
	"lock_until", "last_login_at", "password_changed_at", "reset_token_hash", "reset_token_expires_at", "created_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(db), mock
}

func TestGetByEmailNormalizesAndScans(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lock := created.Add(time.Hour)

	mock.ExpectQuery("select id, email.* from identities where lower\\(email\\) = \\$1 and active").
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "a@x.com", "Ann", "$2a$hash", "vendor", true, 3, lock, nil, nil, nil, nil, created))

	got, err := s.GetByEmail(context.Background(), "  A@X.com ")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != "u1" || got.Role != identity.RoleVendor || got.FailedLoginAttempts != 3 {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.LockUntil == nil || !got.LockUntil.Equal(lock) {
		t.Fatalf("lock not scanned: %v", got.LockUntil)
	}
	if got.LastLoginAt != nil || got.ResetTokenExpiresAt != nil || got.ResetTokenHash != "" {
		t.Fatalf("null columns should stay empty: %+v", got)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, email.* from identities where id = \\$1 and active").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	if _, err := s.GetByID(context.Background(), "missing"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into identities").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identities_email_key"})

	_, err := s.Create(context.Background(), identity.Identity{ID: "u2", Email: "a@x.com", Role: identity.RoleUser, Active: true})
	if !errors.Is(err, identity.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateNormalizesEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into identities").
		WithArgs("u3", "b@x.com", "Bo", "hash", "user", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Create(context.Background(), identity.Identity{ID: "u3", Email: "B@x.com", Name: "Bo", PasswordHash: "hash", Role: identity.RoleUser, Active: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.Email != "b@x.com" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected created identity: %+v", got)
	}
}

func TestRecordLoginFailureIsOneStatement(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	lockUntil := now.Add(time.Hour)

	mock.ExpectQuery("update identities set\\s+failed_login_attempts = case").
		WithArgs("u1", now, 5, lockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "lock_until"}).AddRow(5, lockUntil))

	got, err := s.RecordLoginFailure(context.Background(), "u1", now, 5, lockUntil)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if got.Attempts != 5 || !got.Locked(now) {
		t.Fatalf("expected locked after threshold, got %+v", got)
	}

	mock.ExpectQuery("update identities set\\s+failed_login_attempts = case").
		WithArgs("u1", now, 5, lockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "lock_until"}).AddRow(2, nil))

	got, err = s.RecordLoginFailure(context.Background(), "u1", now, 5, lockUntil)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if got.Attempts != 2 || got.LockUntil != nil {
		t.Fatalf("expected unlocked counter, got %+v", got)
	}
}

func TestRecordLoginFailureUnknownIdentity(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("update identities set").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "lock_until"}))

	_, err := s.RecordLoginFailure(context.Background(), "ghost", time.Now(), 5, time.Now().Add(time.Hour))
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatesReportMissingRows(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("update identities\\s+set failed_login_attempts = 0, lock_until = null, last_login_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.RecordLoginSuccess(ctx, "u1", time.Now()); err != nil {
		t.Fatalf("RecordLoginSuccess: %v", err)
	}

	mock.ExpectExec("update identities set role = \\$2").
		WithArgs("ghost", "admin").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateRole(ctx, "ghost", identity.RoleAdmin); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec("set active = false").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Deactivate(ctx, "u1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	mock.ExpectExec("update identities\\s+set failed_login_attempts = 0, lock_until = null\\s+where").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Unlock(ctx, "u1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	mock.ExpectExec("set password_hash = \\$2, password_changed_at = coalesce").
		WithArgs("u1", "newhash", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdatePassword(ctx, "u1", "newhash", time.Time{}); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}

	mock.ExpectExec("set password_hash").
		WillReturnError(errors.New("connection reset"))
	err := s.UpdatePassword(ctx, "u1", "x", time.Now())
	if err == nil || errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestConsumeResetToken(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery("where reset_token_hash = \\$1 and reset_token_expires_at > \\$2 and active").
		WithArgs("h1", now, "newhash").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "a@x.com", "Ann", "newhash", "user", true, 0, nil, nil, now, nil, nil, now))

	got, err := s.ConsumeResetToken(context.Background(), "h1", now, "newhash")
	if err != nil {
		t.Fatalf("ConsumeResetToken: %v", err)
	}
	if got.PasswordHash != "newhash" || got.PasswordChangedAt == nil || got.ResetTokenHash != "" {
		t.Fatalf("unexpected identity after consume: %+v", got)
	}

	mock.ExpectQuery("where reset_token_hash = \\$1").
		WithArgs("h1", now, "again").
		WillReturnRows(sqlmock.NewRows(columns))
	if _, err := s.ConsumeResetToken(context.Background(), "h1", now, "again"); !errors.Is(err, identity.ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}

	if _, err := s.ConsumeResetToken(context.Background(), "", now, "x"); !errors.Is(err, identity.ErrResetTokenInvalid) {
		t.Fatalf("empty hash must be rejected without a query, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("create table if not exists identities").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}
