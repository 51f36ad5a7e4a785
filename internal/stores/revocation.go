package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRevocationUnavailable wraps any Redis failure, including context
// deadline expiry.
var ErrRevocationUnavailable = errors.New("revocation store unavailable")

// RevocationStore is a shared, expiring denylist of tokens.
type RevocationStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRevocationStore returns a store writing keys under prefix ("rvk" when empty).
func NewRevocationStore(redisClient redis.UniversalClient, prefix string) *RevocationStore {
	if prefix == "" {
		prefix = "rvk"
	}
	return &RevocationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the Redis key under which token is recorded.
func (s *RevocationStore) Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}

// Revoke records token until ttl elapses. A non-positive ttl means the token
// has already expired and nothing is written.
func (s *RevocationStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.Key(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return nil
}

// Claim revokes token only if it is not revoked yet and reports whether this
// call did it. Concurrent rotations of one refresh token see exactly one
// winner. A non-positive ttl claims nothing.
func (s *RevocationStore) Claim(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	ok, err := s.redis.SetNX(ctx, s.Key(token), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return ok, nil
}

// IsRevoked reports whether token is on the list.
func (s *RevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.Key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes.
func (s *RevocationStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return nil
}
