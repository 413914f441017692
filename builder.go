package goToken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goToken/internal/audit"
	"github.com/MrEthical07/goToken/internal/security"
	"github.com/MrEthical07/goToken/device"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/revocation"
	"github.com/MrEthical07/goToken/secret"
	"github.com/MrEthical07/goToken/token"
)

// Builder assembles an [Engine]. It is single use.
type Builder struct {
	config Config
	logger *zap.Logger

	secretStore secret.Store
	revocations revocation.Store
	redis       redis.UniversalClient
	pgPool      *pgxpool.Pool
	auditSink   AuditSink
	signingPEM  []byte
	now         func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithLogger overrides the logger built from Config.Logging.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSecretStore overrides the store selected by Config.Secret.Store.
func (b *Builder) WithSecretStore(store secret.Store) *Builder {
	b.secretStore = store
	return b
}

// WithRevocationStore overrides Config.Revocation.Backend entirely.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.revocations = store
	return b
}

// WithRedis supplies the client for the redis revocation backend. The engine
// does not close a client it did not create.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the pool for the postgres revocation backend. The
// caller keeps ownership.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pgPool = pool
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSigningKey injects a PEM private key for asymmetric methods.
func (b *Builder) WithSigningKey(pem []byte) *Builder {
	b.signingPEM = append([]byte(nil), pem...)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, resolves the signing secret, prepares
// keys and stores, and returns a ready Engine. Any failure is fatal: a
// production deployment without a secret or with an unsupported algorithm
// never gets an Engine.
func (b *Builder) Build(ctx context.Context) (_ *Engine, err error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	env := cfg.environment()
	method := cfg.signingMethod()
	now := b.now
	if now == nil {
		now = time.Now
	}

	logger := b.logger
	if logger == nil {
		logger, err = NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		config:  cfg,
		env:     env,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	// -------- SECRET --------
	store, err := b.buildSecretStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.secretStoreName = cfg.Secret.Store
	if b.secretStore != nil {
		e.secretStoreName = "custom"
	}
	e.secrets = secret.NewProvider(secret.ProviderConfig{
		Explicit:         cfg.Secret.Value,
		EnvVar:           cfg.Secret.EnvVar,
		Store:            store,
		StoreName:        cfg.Secret.StoreName,
		LookupTimeout:    cfg.Secret.LookupTimeout,
		RotationInterval: cfg.Secret.RotationInterval,
		Logger:           logger,
	})

	var signingSecret secret.Secret
	if method == jwt.MethodHS256 || (cfg.Encryption.Enabled && cfg.Encryption.MasterSecret == "") {
		signingSecret, err = e.secrets.SigningSecret(ctx, env)
		if err != nil {
			return nil, err
		}
	}

	// -------- SIGNING KEYS --------
	pem := b.signingPEM
	if len(pem) == 0 && cfg.Signing.PrivateKeyPEM != "" {
		pem = []byte(cfg.Signing.PrivateKeyPEM)
	}
	keyCfg := jwt.KeyConfig{
		Method:        method,
		PrivateKeyPEM: pem,
		Production:    env.Production(),
		RSABits:       cfg.Signing.RSABits,
		RotationGrace: cfg.Signing.RotationGrace,
		Logger:        logger,
		Now:           now,
	}
	if method == jwt.MethodHS256 {
		keyCfg.Secret = signingSecret.Reveal()
	}
	e.keys, err = jwt.NewKeyManager(keyCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	e.signer, err = jwt.NewManager(jwt.Config{
		Keys:     e.keys,
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		Leeway:   cfg.Token.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	// -------- PAYLOAD CIPHER --------
	if cfg.Encryption.Enabled {
		if err := e.buildCipher(cfg, signingSecret); err != nil {
			return nil, err
		}
	}

	// -------- REVOCATION --------
	if err := b.buildRevocation(ctx, e, cfg, logger); err != nil {
		return nil, err
	}

	// -------- DEVICE / AUDIT --------
	e.fingerprinter = device.New(device.Config{
		Salt:              []byte(cfg.DeviceBinding.Salt),
		TrustProxyHeaders: cfg.DeviceBinding.TrustProxyHeaders,
	})

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewZapSink(logger)
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	// -------- CODEC --------
	var compliance *token.ComplianceTag
	if cfg.Compliance.Enabled {
		compliance = &token.ComplianceTag{
			Frameworks:         append([]string(nil), cfg.Compliance.Frameworks...),
			DataClassification: cfg.Compliance.DataClassification,
			PolicyVersion:      cfg.Compliance.PolicyVersion,
			Environment:        env.String(),
		}
	}
	e.codec, err = token.NewCodec(token.Config{
		Signer:      e.signer,
		Cipher:      e.cipher,
		Revocations: e.revocations,
		TTLs:        cfg.ttls(),
		Compliance:  compliance,
		Observer:    e,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	logger.Info("token engine ready",
		zap.String("environment", env.String()),
		zap.String("algorithm", string(method)),
		zap.Bool("encryption", e.cipher != nil),
		zap.String("revocation", e.revocationBackend),
		zap.Bool("device_binding", cfg.DeviceBinding.Enabled),
	)
	return e, nil
}

func (b *Builder) buildSecretStore(ctx context.Context, cfg Config) (secret.Store, error) {
	if b.secretStore != nil {
		return b.secretStore, nil
	}
	switch cfg.Secret.Store {
	case SecretStoreMemory:
		return secret.NewMemoryStore(), nil
	case SecretStoreVault:
		s, err := secret.NewVaultStore(secret.VaultConfig{
			Address:   cfg.Secret.Vault.Address,
			Token:     cfg.Secret.Vault.Token,
			Mount:     cfg.Secret.Vault.Mount,
			Namespace: cfg.Secret.Vault.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return s, nil
	case SecretStoreAWS:
		s, err := secret.NewSecretsManagerStore(ctx, secret.SecretsManagerConfig{
			Region:          cfg.Secret.AWS.Region,
			Endpoint:        cfg.Secret.AWS.Endpoint,
			AccessKeyID:     cfg.Secret.AWS.AccessKeyID,
			SecretAccessKey: cfg.Secret.AWS.SecretAccessKey,
			Prefix:          cfg.Secret.AWS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

func (e *Engine) buildCipher(cfg Config, signingSecret secret.Secret) error {
	master := signingSecret
	if cfg.Encryption.MasterSecret != "" {
		master = secret.New(cfg.Encryption.MasterSecret)
	} else {
		e.cipherFollowsSecret = true
	}

	explicit, err := cfg.encryptionSalt()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	e.explicitSalt = explicit != nil
	salt, err := payload.ResolveSalt(explicit, master.Reveal(), e.env.String(), e.env.Production())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	e.cipher, err = payload.NewCipher(payload.Config{
		Secret:        master.Reveal(),
		Salt:          salt,
		Params:        cfg.kdfParams(),
		RotationGrace: cfg.Encryption.RotationGrace,
		Now:           e.now,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	e.masterSecret = master
	return nil
}

func (b *Builder) buildRevocation(ctx context.Context, e *Engine, cfg Config, logger *zap.Logger) error {
	leeway := cfg.Token.Leeway
	if b.revocations != nil {
		e.revocations = b.revocations
		e.revocationBackend = backendName(b.revocations)
		return nil
	}

	switch cfg.Revocation.Backend {
	case RevocationMemory:
		e.revocations = revocation.NewMemoryStore(revocation.MemoryConfig{
			CleanupThreshold: cfg.Revocation.CleanupThreshold,
			Leeway:           leeway,
			Now:              e.now,
		})

	case RevocationRedis:
		client := b.redis
		if client == nil {
			owned := redis.NewClient(&redis.Options{
				Addr:     cfg.Revocation.Redis.Addr,
				Password: cfg.Revocation.Redis.Password,
				DB:       cfg.Revocation.Redis.DB,
			})
			e.closers = append(e.closers, func() { _ = owned.Close() })
			client = owned
		}
		store := revocation.NewRedisStore(client, cfg.Revocation.Redis.Prefix, leeway)
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}
		e.revocations = store

	case RevocationPostgres:
		var (
			store *revocation.PostgresStore
			err   error
		)
		if b.pgPool != nil {
			store, err = revocation.NewPostgresStoreFromPool(b.pgPool, cfg.Revocation.Postgres.Table, leeway)
		} else {
			store, err = revocation.NewPostgresStore(ctx, revocation.PostgresConfig{
				DSN:    cfg.Revocation.Postgres.DSN,
				Table:  cfg.Revocation.Postgres.Table,
				Leeway: leeway,
			})
			if err == nil {
				e.closers = append(e.closers, store.Close)
			}
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}
		if cfg.Revocation.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
			}
		}
		e.revocations = store

	case RevocationNone:
		logger.Warn("revocation disabled; revoked tokens stay valid until they expire")
	}
	e.revocationBackend = cfg.Revocation.Backend
	return nil
}

func backendName(s revocation.Store) string {
	switch s.(type) {
	case *revocation.MemoryStore:
		return RevocationMemory
	case *revocation.RedisStore:
		return RevocationRedis
	case *revocation.PostgresStore:
		return RevocationPostgres
	default:
		return security.BackendCustom
	}
}
