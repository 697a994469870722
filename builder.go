package goAccess

import (
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goAccess/internal/audit"
	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/jwt"
	"github.com/MrEthical07/goAccess/mfa"
	"github.com/MrEthical07/goAccess/password"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/session"
	"github.com/MrEthical07/goAccess/tenant"
	"github.com/MrEthical07/goAccess/voter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single use.
//
// Builder instances are intended to be configured during initialization and
// then discarded.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory  Directory
	auditStore AuditStore
	auditSink  AuditSink
	logger     *zap.Logger
	hasher     password.Hasher
	voters     []voter.Voter
	now        func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session registry, the MFA challenge
// store and the login throttle. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the relational persistence. Required.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithAuditStore sets the durable audit log. Without one, entries only reach
// the sinks.
func (b *Builder) WithAuditStore(s AuditStore) *Builder {
	b.auditStore = s
	return b
}

// WithAuditSink adds an asynchronous consumer of audit entries. It only
// receives entries when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPasswordHasher replaces the argon2id hasher built from
// Config.Password.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithVoters appends voters after the default set.
func (b *Builder) WithVoters(v ...voter.Voter) *Builder {
	b.voters = append(b.voters, v...)
	return b
}

// WithClock overrides the time source of the engine, the session registry
// and the token manager.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the session validation histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := permission.NewCatalogRegistry()
	roleManager, err := permission.DefaultRoleManager(registry)
	if err != nil {
		return nil, fmt.Errorf("role hierarchy: %w", err)
	}
	resolver, err := permission.NewResolver(registry, roleManager, cfg.Permission.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("permission resolver: %w", err)
	}
	isPermission := func(name string) bool {
		_, ok := registry.Bit(name)
		return ok
	}
	voters := voter.Default(roleManager.Known, isPermission)
	if len(b.voters) > 0 {
		voters = voter.NewManager(append(voters.Voters(), b.voters...)...)
	}

	hasher := b.hasher
	if hasher == nil {
		argon, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		})
		if err != nil {
			return nil, err
		}
		hasher = argon
	}

	totp, err := mfa.NewTOTP(mfa.TOTPConfig{
		Issuer:     cfg.MFA.Issuer,
		Digits:     cfg.MFA.Digits,
		Period:     cfg.MFA.Period,
		Skew:       cfg.MFA.Skew,
		SecretSize: 20,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	sink, fileSink, err := b.buildSinks(cfg.Audit)
	if err != nil {
		return nil, err
	}
	overflow := internalaudit.OverflowBlock
	if cfg.Audit.DropIfFull {
		overflow = internalaudit.OverflowDrop
	}
	relay := internalaudit.NewRelay(sink, cfg.Audit.BufferSize, overflow)
	var store internalaudit.Store
	if b.auditStore != nil {
		store = b.auditStore
	}

	b.built = true
	return &Engine{
		config:      cfg,
		log:         logger,
		now:         now,
		directory:   b.directory,
		auditStore:  b.auditStore,
		registry:    registry,
		roleManager: roleManager,
		resolver:    resolver,
		voters:      voters,
		tenants:     tenant.NewResolver(b.directory),
		sessions: session.NewRegistry(b.redis, session.Options{
			Prefix:           cfg.Session.RedisPrefix,
			MaxConcurrent:    cfg.Session.MaxConcurrentSessions,
			IdleTimeout:      cfg.Session.IdleTimeout,
			AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
			RetainTerminated: cfg.Session.RetainTerminated,
			Now:              now,
		}),
		challenges: mfa.NewChallengeStore(b.redis, cfg.MFA.ChallengePrefix, cfg.MFA.ChallengeTTL),
		limiter: rate.New(b.redis, rate.Config{
			Prefix:           cfg.Security.LoginRedisPrefix,
			MaxAttempts:      cfg.Security.MaxLoginAttempts,
			Window:           cfg.Security.LoginCooldownDuration,
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
		}),
		totp:         totp,
		passwordHash: hasher,
		tokens:       tokens,
		audit:        internalaudit.NewLogger(store, relay, logger),
		auditFile:    fileSink,
		metrics:      NewMetrics(cfg.Metrics),
	}, nil
}

// buildSinks combines the configured sink and the rotating file into one.
// It returns a nil sink when neither applies.
func (b *Builder) buildSinks(cfg AuditConfig) (internalaudit.Sink, *internalaudit.FileSink, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	var sinks internalaudit.MultiSink
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	var fileSink *internalaudit.FileSink
	if cfg.FilePath != "" {
		fs, err := internalaudit.NewFileSink(internalaudit.FileConfig{
			Path:       cfg.FilePath,
			MaxSizeMB:  cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
			MaxAgeDays: cfg.FileMaxAgeDays,
			Compress:   cfg.FileCompress,
		})
		if err != nil {
			return nil, nil, err
		}
		fileSink = fs
		sinks = append(sinks, fs)
	}
	switch len(sinks) {
	case 0:
		return nil, nil, nil
	case 1:
		return sinks[0], fileSink, nil
	default:
		return sinks, fileSink, nil
	}
}
