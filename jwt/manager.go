package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access from refresh tokens inside the claims.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrTokenExpired means the signature was valid but exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidSignature covers bad signatures, wrong keys and any algorithm
	// other than the configured one (including "none").
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrMalformed covers undecodable tokens and claims of the wrong shape.
	ErrMalformed = errors.New("token malformed")
)

// Config carries the signing secrets and expiry policy. Access and refresh
// tokens are signed with different secrets so one leaking does not expose
// the other.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
	// Now overrides the clock for issuance and verification. Defaults to time.Now.
	Now func() time.Time
}

// Manager mints and verifies HS256 token pairs. It holds no mutable state.
type Manager struct {
	config Config
	method *jwt.SigningMethodHMAC
}

// Claims is the decoded payload of either token type. Role and Permissions
// are only populated on access tokens.
type Claims struct {
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"perms,omitempty"`
	Type        TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Pair is the result of Issue.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg, method: jwt.SigningMethodHS256}, nil
}

// Algorithm returns the only accepted "alg" header value.
func (m *Manager) Algorithm() string {
	return m.method.Alg()
}

// RefreshTTL returns the configured refresh lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}

// Issue mints an access token carrying role and permissions and a refresh
// token carrying only the subject. Both get a fresh jti.
func (m *Manager) Issue(subject, role string, permissions []string) (Pair, error) {
	if subject == "" {
		return Pair{}, errors.New("subject is required")
	}
	// NumericDate carries whole seconds; report exactly what is encoded.
	now := m.config.Now().Truncate(time.Second)

	accessExp := now.Add(m.config.AccessTTL)
	access, err := m.sign(Claims{
		Role:             role,
		Permissions:      slices.Clone(permissions),
		Type:             TypeAccess,
		RegisteredClaims: m.registered(subject, now, accessExp),
	}, m.config.AccessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshExp := now.Add(m.config.RefreshTTL)
	refresh, err := m.sign(Claims{
		Type:             TypeRefresh,
		RegisteredClaims: m.registered(subject, now, refreshExp),
	}, m.config.RefreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token and returns its claims, or one of
// ErrTokenExpired, ErrInvalidSignature, ErrMalformed.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(token, m.config.AccessSecret, TypeAccess)
}

// VerifyRefresh is VerifyAccess for refresh tokens and the refresh secret.
func (m *Manager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(token, m.config.RefreshSecret, TypeRefresh)
}

// Remaining returns how long claims stay naturally valid at the manager's
// current time. It is never negative.
func (m *Manager) Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(m.config.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (m *Manager) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (m *Manager) sign(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(m.method, claims).SignedString(secret)
}

func (m *Manager) verify(tokenStr string, secret []byte, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Type != want || claims.Subject == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

// classify folds the library's error tree into the three verification
// outcomes. Signature problems win over expiry: an expired token with a bad
// signature was never ours.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
