package authgate

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/internal/rate"
	"github.com/erpcore/authgate/internal/stores"
	"github.com/erpcore/authgate/jwt"
	"github.com/erpcore/authgate/password"
	"github.com/erpcore/authgate/permission"
)

const tracerName = "github.com/erpcore/authgate"

// Builder assembles an Engine. Configure it once, call Build, then discard it.
type Builder struct {
	config     Config
	store      identity.Store
	redis      redis.UniversalClient
	revocation RevocationStore
	notifier   Notifier
	logger     *zap.Logger
	auditSink  AuditSink
	roles      *permission.RoleManager
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityStore sets the credential store. Required.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.store = store
	return b
}

// WithRedis supplies the client used by the revocation store and the rate
// limiter when those features are enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationStore overrides the Redis-backed revocation store. It also
// enables revocation, whatever config is set before or after it.
func (b *Builder) WithRevocationStore(store RevocationStore) *Builder {
	b.revocation = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink replaces the default zap audit sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRoleManager replaces the default role catalogue. The manager should
// already be frozen.
func (b *Builder) WithRoleManager(rm *permission.RoleManager) *Builder {
	b.roles = rm
	return b
}

// WithClock overrides time.Now for issuance, verification, lockout and
// reset expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.revocation != nil {
		cfg.Revocation.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		store:   b.store,
		logger:  logger.Named("authgate"),
		now:     now,
		tracer:  otel.Tracer(tracerName),
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- REVOCATION --------
	if cfg.Revocation.Enabled {
		switch {
		case b.revocation != nil:
			engine.revocation = b.revocation
		case b.redis != nil:
			engine.revocation = stores.NewRevocationStore(b.redis, cfg.Revocation.KeyPrefix)
		default:
			return nil, errors.New("revocation requires redis client or revocation store")
		}
	}

	// -------- RATE LIMITING --------
	if cfg.RateLimit.Enabled {
		if b.redis == nil {
			return nil, errors.New("rate limiting requires redis client")
		}
		limiter := rate.New(b.redis, rate.Config{
			LoginMaxAttempts: cfg.RateLimit.LoginMaxAttempts,
			LoginWindow:      cfg.RateLimit.LoginWindow,
			ResetMaxRequests: cfg.RateLimit.ResetMaxRequests,
			ResetWindow:      cfg.RateLimit.ResetWindow,
		})
		engine.loginLimiter = limiter
		engine.resetLimiter = limiter
	}

	// -------- ROLES --------
	roles := b.roles
	if roles == nil {
		rm, err := permission.NewDefaultRoleManager()
		if err != nil {
			return nil, err
		}
		roles = rm
	}
	engine.roles = roles

	// -------- CRYPTO --------
	hasher, err := password.NewHasher(password.Config{
		Cost:      cfg.Password.BcryptCost,
		MinLength: cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  cloneBytes(cfg.JWT.AccessSecret),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	// -------- NOTIFY / AUDIT --------
	engine.notifier = b.notifier
	if engine.notifier == nil {
		engine.notifier = logNotifier{logger: engine.logger}
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		EmitTimeout: 5 * time.Second,
	}, sink)

	engine.wireFlows()

	b.built = true

	return engine, nil
}
