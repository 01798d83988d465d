package auth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/jwtoken"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rate"
)

// Builder assembles an Engine. Each With method returns the builder for
// chaining; Build may be called once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	accounts AccountProvider
	sink     AuditSink
	built    bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccounts(provider AccountProvider) *Builder {
	b.accounts = provider
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	tokens, err := jwtoken.NewManager(jwtoken.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		Method:     jwtoken.Method(cfg.JWT.Method),
		Secret:     cloneBytes(cfg.JWT.Secret),
		PrivateKey: cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:  cloneBytes(cfg.JWT.PublicKey),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	// The dummy hash equalizes login latency for unknown emails.
	dummyHash, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		accounts:   b.accounts,
		sessions:   newSessionStore(b.redis, cfg.Session.RedisPrefix),
		challenges: newMFAChallengeStore(b.redis),
		limiter:    rate.New(b.redis, cfg.Limits),
		tokens:     tokens,
		hasher:     hasher,
		totp:       newTOTPManager(cfg.TOTP),
		audit:      newAuditDispatcher(cfg.Audit, b.sink),
		metrics:    &Metrics{},
		dummyHash:  dummyHash,
	}

	b.built = true
	return engine, nil
}
