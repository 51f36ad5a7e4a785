// Package postgres is the PostgreSQL identity.Store. It speaks database/sql
// through the pgx driver. State-dependent mutations (failed-login counting,
// reset-token consumption) are single conditional UPDATE statements, so
// concurrent service instances cannot lose updates.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/erpcore/authgate/identity"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const identityColumns = `id, email, name, password_hash, role, active, failed_login_attempts,
	lock_until, last_login_at, password_changed_at, reset_token_hash, reset_token_expires_at, created_at`

// PoolConfig tunes the database/sql pool. Zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig is sized for a handful of service replicas sharing one
// database.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store implements identity.Store.
type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

// Open connects with the pgx driver. The connection is lazy; call Ping to
// check reachability.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the identities table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate identities: %w", err)
	}
	return nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(email) = $1 and active`,
		identity.NormalizeEmail(email))
	return scanIdentity(row, identity.ErrNotFound)
}

func (s *Store) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id = $1 and active`, id)
	return scanIdentity(row, identity.ErrNotFound)
}

func (s *Store) Create(ctx context.Context, in identity.Identity) (identity.Identity, error) {
	in.Email = identity.NormalizeEmail(in.Email)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		insert into identities (id, email, name, password_hash, role, active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, in.ID, in.Email, in.Name, in.PasswordHash, string(in.Role), in.Active, in.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.Identity{}, identity.ErrEmailTaken
		}
		return identity.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return in, nil
}

// RecordLoginFailure counts the attempt and sets the lock in one statement.
// SET expressions see the pre-update row, so the expired-lock reset and the
// threshold test agree on the same starting counter.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockUntil time.Time) (identity.LoginFailure, error) {
	var (
		attempts int
		lock     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update identities set
			failed_login_attempts = case
				when lock_until is not null and lock_until <= $2 then 1
				else failed_login_attempts + 1
			end,
			lock_until = case
				when lock_until is not null and lock_until > $2 then lock_until
				when (case
					when lock_until is not null and lock_until <= $2 then 1
					else failed_login_attempts + 1
				end) >= $3 then $4
				else null
			end
		where id = $1 and active
		returning failed_login_attempts, lock_until
	`, id, now, threshold, lockUntil).Scan(&attempts, &lock)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.LoginFailure{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.LoginFailure{}, fmt.Errorf("record login failure: %w", err)
	}
	return identity.LoginFailure{Attempts: attempts, LockUntil: timePtr(lock)}, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, "record login success", `
		update identities
		set failed_login_attempts = 0, lock_until = null, last_login_at = $2
		where id = $1 and active
	`, id, now)
}

func (s *Store) Unlock(ctx context.Context, id string) error {
	return s.exec(ctx, "unlock", `
		update identities
		set failed_login_attempts = 0, lock_until = null
		where id = $1 and active
	`, id)
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	var stamp sql.NullTime
	if !changedAt.IsZero() {
		stamp = sql.NullTime{Time: changedAt, Valid: true}
	}
	return s.exec(ctx, "update password", `
		update identities
		set password_hash = $2, password_changed_at = coalesce($3, password_changed_at)
		where id = $1 and active
	`, id, passwordHash, stamp)
}

func (s *Store) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.exec(ctx, "set reset token", `
		update identities
		set reset_token_hash = $2, reset_token_expires_at = $3
		where id = $1 and active
	`, id, tokenHash, expiresAt)
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (identity.Identity, error) {
	if tokenHash == "" {
		return identity.Identity{}, identity.ErrResetTokenInvalid
	}
	row := s.db.QueryRowContext(ctx, `
		update identities set
			password_hash = $3,
			password_changed_at = $2,
			reset_token_hash = null,
			reset_token_expires_at = null,
			failed_login_attempts = 0,
			lock_until = null
		where reset_token_hash = $1 and reset_token_expires_at > $2 and active
		returning `+identityColumns,
		tokenHash, now, passwordHash)
	return scanIdentity(row, identity.ErrResetTokenInvalid)
}

func (s *Store) UpdateRole(ctx context.Context, id string, role identity.Role) error {
	return s.exec(ctx, "update role", `
		update identities set role = $2 where id = $1 and active
	`, id, string(role))
}

func (s *Store) Deactivate(ctx context.Context, id string) error {
	return s.exec(ctx, "deactivate", `
		update identities
		set active = false, reset_token_hash = null, reset_token_expires_at = null
		where id = $1 and active
	`, id)
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner, notFound error) (identity.Identity, error) {
	var (
		out                                   identity.Identity
		role                                  string
		resetHash                             sql.NullString
		lockUntil, lastLogin, changed, resetX sql.NullTime
	)
	err := row.Scan(
		&out.ID, &out.Email, &out.Name, &out.PasswordHash, &role, &out.Active,
		&out.FailedLoginAttempts, &lockUntil, &lastLogin, &changed, &resetHash, &resetX, &out.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, notFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("scan identity: %w", err)
	}

	out.Role = identity.Role(role)
	out.LockUntil = timePtr(lockUntil)
	out.LastLoginAt = timePtr(lastLogin)
	out.PasswordChangedAt = timePtr(changed)
	out.ResetTokenHash = resetHash.String
	out.ResetTokenExpiresAt = timePtr(resetX)
	return out, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
