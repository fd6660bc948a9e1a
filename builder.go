package adminauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/portfolio/adminauth/internal/attempts"
	"github.com/portfolio/adminauth/internal/notify"
	"github.com/portfolio/adminauth/jwt"
	"github.com/portfolio/adminauth/password"
	"github.com/portfolio/adminauth/session"
	"github.com/portfolio/adminauth/totp"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserProvider
	mailer   Mailer
	attempts AttemptLog
	verifier PasswordVerifier
	logger   *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session store. When no attempt log
// is supplied, the Redis attempt log is used as well.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

// WithMailer sets the destination of MFA codes and login notifications.
// Without one, mail is not sent and a warning is logged at build time.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAttemptLog(log AttemptLog) *Builder {
	b.attempts = log
	return b
}

// WithPasswordVerifier replaces the default argon2id/bcrypt verifier.
func (b *Builder) WithPasswordVerifier(v PasswordVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and wires every component. A missing
// or weak signing key is an error.
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
	if b.users == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, err := jwt.NewManager(jwtConfig(cfg.JWT))
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password verifier: %w", err)
	}
	// Unknown emails are checked against this so they cost a full hash.
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	verifier := b.verifier
	if verifier == nil {
		verifier = hasher
	}

	attemptLog := b.attempts
	if attemptLog == nil {
		attemptLog = attempts.NewRedisLog(b.redis, cfg.Session.RedisPrefix+":att", cfg.RateLimit.Window)
	}

	mailer := b.mailer
	if mailer == nil {
		logger.Warn("no mailer configured, mfa codes will not be delivered")
		mailer = nopMailer{}
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		BufferSize:     cfg.Notify.BufferSize,
		DropIfFull:     cfg.Notify.DropIfFull,
		MaxAttempts:    cfg.Notify.MaxAttempts,
		AttemptTimeout: cfg.Notify.AttemptTimeout,
		BaseBackoff:    cfg.Notify.BaseBackoff,
	}, mailer, logger.Named("notify"))

	b.built = true

	return &Engine{
		config:    cfg,
		users:     b.users,
		attempts:  attemptLog,
		verifier:  verifier,
		dummyHash: dummyHash,
		codec:     totp.New(cfg.MFA.DecodeMode),
		tokens:    tokens,
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL),
		notifier:  dispatcher,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       time.Now,
	}, nil
}

func jwtConfig(c JWTConfig) jwt.Config {
	out := jwt.Config{
		SigningKey: c.SigningKey,
		Issuer:     c.Issuer,
		Leeway:     c.Leeway,
		KeyID:      c.KeyID,
	}
	if len(c.PreviousKeys) > 0 {
		out.VerifyKeys = make(map[string][]byte, len(c.PreviousKeys)+1)
		for kid, key := range c.PreviousKeys {
			out.VerifyKeys[kid] = key
		}
		out.VerifyKeys[c.KeyID] = c.SigningKey
	}
	return out
}

type nopMailer struct{}

func (nopMailer) SendMFACode(context.Context, string, string) error           { return nil }
func (nopMailer) SendLoginNotification(context.Context, string, string) error { return nil }
