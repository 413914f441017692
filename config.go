package goToken

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/secret"
	"github.com/MrEthical07/goToken/token"
)

// Config is the full engine configuration. It is read once by [Builder.Build]
// and treated as immutable afterwards.
type Config struct {
	Environment   string              `koanf:"environment"`
	Signing       SigningConfig       `koanf:"signing"`
	Secret        SecretConfig        `koanf:"secret"`
	Encryption    EncryptionConfig    `koanf:"encryption"`
	Token         TokenConfig         `koanf:"token"`
	DeviceBinding DeviceBindingConfig `koanf:"device_binding"`
	Revocation    RevocationConfig    `koanf:"revocation"`
	Compliance    ComplianceConfig    `koanf:"compliance"`
	Audit         AuditConfig         `koanf:"audit"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Logging       LoggingConfig       `koanf:"logging"`
}

/*
====================================
SIGNING
====================================
*/

type SigningConfig struct {
	// Method is one of hs256, rs256, es256, ed25519.
	Method string `koanf:"method"`
	// PrivateKeyPEM injects an asymmetric key instead of generating one.
	PrivateKeyPEM string        `koanf:"private_key_pem"`
	RSABits       int           `koanf:"rsa_bits"`
	RotationGrace time.Duration `koanf:"rotation_grace"`
}

/*
====================================
SECRET
====================================
*/

// Secret store backends.
const (
	SecretStoreNone   = "none"
	SecretStoreMemory = "memory"
	SecretStoreVault  = "vault"
	SecretStoreAWS    = "aws"
)

type SecretConfig struct {
	// Value is an explicit signing secret. It wins over every other source.
	Value            string        `koanf:"value"`
	EnvVar           string        `koanf:"env_var"`
	Store            string        `koanf:"store"`
	StoreName        string        `koanf:"store_name"`
	LookupTimeout    time.Duration `koanf:"lookup_timeout"`
	RotationInterval time.Duration `koanf:"rotation_interval"`
	Vault            VaultConfig   `koanf:"vault"`
	AWS              AWSConfig     `koanf:"aws"`
}

type VaultConfig struct {
	Address   string `koanf:"address"`
	Token     string `koanf:"token"`
	Mount     string `koanf:"mount"`
	Namespace string `koanf:"namespace"`
}

type AWSConfig struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Prefix          string `koanf:"prefix"`
}

/*
====================================
ENCRYPTION
====================================
*/

type EncryptionConfig struct {
	Enabled bool `koanf:"enabled"`
	// MasterSecret defaults to the signing secret. When it does, secret
	// rotation re-keys the cipher too.
	MasterSecret string `koanf:"master_secret"`
	// Salt is base64 (standard or URL alphabet) of 16 bytes. Required in
	// production.
	Salt          string        `koanf:"salt"`
	KDF           string        `koanf:"kdf"`
	Iterations    int           `koanf:"iterations"`
	ArgonMemory   uint32        `koanf:"argon_memory"`
	ArgonTime     uint32        `koanf:"argon_time"`
	ArgonThreads  uint8         `koanf:"argon_threads"`
	RotationGrace time.Duration `koanf:"rotation_grace"`
}

/*
====================================
TOKEN
====================================
*/

type TokenConfig struct {
	Issuer               string        `koanf:"issuer"`
	Audience             string        `koanf:"audience"`
	AccessTTL            time.Duration `koanf:"access_ttl"`
	RefreshTTL           time.Duration `koanf:"refresh_ttl"`
	ResetPasswordTTL     time.Duration `koanf:"reset_password_ttl"`
	EmailVerificationTTL time.Duration `koanf:"email_verification_ttl"`
	Leeway               time.Duration `koanf:"leeway"`
}

type DeviceBindingConfig struct {
	// Enabled makes Authenticate bind access tokens to the request fingerprint.
	Enabled           bool   `koanf:"enabled"`
	Salt              string `koanf:"salt"`
	TrustProxyHeaders bool   `koanf:"trust_proxy_headers"`
}

/*
====================================
REVOCATION
====================================
*/

// Revocation backends.
const (
	RevocationNone     = "none"
	RevocationMemory   = "memory"
	RevocationRedis    = "redis"
	RevocationPostgres = "postgres"
)

type RevocationConfig struct {
	Backend          string         `koanf:"backend"`
	CleanupThreshold int            `koanf:"cleanup_threshold"`
	Redis            RedisConfig    `koanf:"redis"`
	Postgres         PostgresConfig `koanf:"postgres"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	Table        string `koanf:"table"`
	EnsureSchema bool   `koanf:"ensure_schema"`
}

/*
====================================
COMPLIANCE / AUDIT / METRICS / LOGGING
====================================
*/

type ComplianceConfig struct {
	Enabled bool `koanf:"enabled"`
	// Required makes the security audit fail production deployments that
	// do not tag tokens.
	Required           bool     `koanf:"required"`
	Frameworks         []string `koanf:"frameworks"`
	DataClassification string   `koanf:"data_classification"`
	PolicyVersion      string   `koanf:"policy_version"`
}

type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

type LoggingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a development configuration: HS256 with a generated
// secret, in-memory revocation, no encryption.
func DefaultConfig() Config {
	return Config{
		Environment: string(secret.Development),
		Signing: SigningConfig{
			Method:        string(jwt.MethodHS256),
			RotationGrace: jwt.DefaultRotationGrace,
		},
		Secret: SecretConfig{
			EnvVar:           secret.DefaultEnvVar,
			Store:            SecretStoreNone,
			StoreName:        secret.DefaultStoreName,
			LookupTimeout:    5 * time.Second,
			RotationInterval: 90 * 24 * time.Hour,
			Vault:            VaultConfig{Mount: "secret"},
		},
		Encryption: EncryptionConfig{
			Enabled:       false,
			KDF:           string(payload.KDFPBKDF2),
			Iterations:    payload.DefaultPBKDF2Iterations,
			RotationGrace: payload.DefaultRotationGrace,
		},
		Token: TokenConfig{
			Issuer:               "gotoken",
			Audience:             "gotoken-api",
			AccessTTL:            token.KindAccess.DefaultTTL(),
			RefreshTTL:           token.KindRefresh.DefaultTTL(),
			ResetPasswordTTL:     token.KindResetPassword.DefaultTTL(),
			EmailVerificationTTL: token.KindEmailVerification.DefaultTTL(),
			Leeway:               30 * time.Second,
		},
		DeviceBinding: DeviceBindingConfig{
			Enabled: false,
		},
		Revocation: RevocationConfig{
			Backend:          RevocationMemory,
			CleanupThreshold: 1000,
			Redis:            RedisConfig{Addr: "127.0.0.1:6379", Prefix: "gtr"},
			Postgres:         PostgresConfig{Table: "gotoken_revocations", EnsureSchema: true},
		},
		Compliance: ComplianceConfig{
			PolicyVersion: "1",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}
}

func (c Config) environment() secret.Environment {
	env, _ := secret.ParseEnvironment(c.Environment)
	return env
}

func (c Config) signingMethod() jwt.SigningMethod {
	m, _ := jwt.ParseSigningMethod(c.Signing.Method)
	return m
}

// encryptionSalt decodes the configured salt. A nil result means "derive".
func (c Config) encryptionSalt() ([]byte, error) {
	raw := strings.TrimSpace(c.Encryption.Salt)
	if raw == "" {
		return nil, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil {
			if len(b) != payload.SaltSize {
				return nil, fmt.Errorf("encryption salt must decode to %d bytes, got %d", payload.SaltSize, len(b))
			}
			return b, nil
		}
	}
	return nil, errors.New("encryption salt is not valid base64")
}

func (c Config) kdfParams() payload.Params {
	p := payload.DefaultParams()
	if c.Encryption.KDF != "" {
		p.KDF = payload.KDF(c.Encryption.KDF)
	}
	if c.Encryption.Iterations > 0 {
		p.Iterations = c.Encryption.Iterations
	}
	if c.Encryption.ArgonMemory > 0 {
		p.Memory = c.Encryption.ArgonMemory
	}
	if c.Encryption.ArgonTime > 0 {
		p.Time = c.Encryption.ArgonTime
	}
	if c.Encryption.ArgonThreads > 0 {
		p.Threads = c.Encryption.ArgonThreads
	}
	return p
}

func (c Config) ttls() map[token.Kind]time.Duration {
	return map[token.Kind]time.Duration{
		token.KindAccess:            c.Token.AccessTTL,
		token.KindRefresh:           c.Token.RefreshTTL,
		token.KindResetPassword:     c.Token.ResetPasswordTTL,
		token.KindEmailVerification: c.Token.EmailVerificationTTL,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every problem at once. The returned error wraps
// ErrConfiguration.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	env, err := secret.ParseEnvironment(c.Environment)
	if err != nil {
		add("%v", err)
	}
	production := env.Production()

	if _, err := jwt.ParseSigningMethod(c.Signing.Method); err != nil {
		add("signing method: %v", err)
	}
	if c.Signing.RSABits != 0 && c.Signing.RSABits < 2048 {
		add("signing rsa_bits must be >= 2048")
	}
	if c.Signing.RotationGrace < 0 {
		add("signing rotation_grace must be >= 0")
	}

	switch c.Secret.Store {
	case "", SecretStoreNone, SecretStoreMemory:
	case SecretStoreVault:
		if c.Secret.Vault.Address == "" || c.Secret.Vault.Token == "" {
			add("vault secret store requires address and token")
		}
	case SecretStoreAWS:
		if c.Secret.AWS.Region == "" {
			add("aws secret store requires region")
		}
	default:
		add("unknown secret store %q", c.Secret.Store)
	}
	if c.Secret.LookupTimeout < 0 {
		add("secret lookup_timeout must be >= 0")
	}
	if production && c.Secret.Store == SecretStoreMemory {
		add("memory secret store is not allowed in production")
	}

	if c.Encryption.Enabled {
		if err := c.kdfParams().Validate(); err != nil {
			add("encryption: %v", err)
		}
		salt, err := c.encryptionSalt()
		if err != nil {
			add("%v", err)
		}
		if production && salt == nil {
			add("encryption salt must be provided in production")
		}
		if c.Encryption.RotationGrace < 0 {
			add("encryption rotation_grace must be >= 0")
		}
		if c.Encryption.MasterSecret != "" {
			if err := secret.CheckStrength(c.Encryption.MasterSecret, secret.KindEncryption, env); err != nil && env.Valid() {
				add("encryption master_secret: %v", err)
			}
		}
	}

	if strings.TrimSpace(c.Token.Issuer) == "" {
		add("token issuer must not be empty")
	}
	if strings.TrimSpace(c.Token.Audience) == "" {
		add("token audience must not be empty")
	}
	for kind, ttl := range c.ttls() {
		if ttl <= 0 {
			add("token %s ttl must be > 0", kind)
		}
		if limit := kind.MaxTTL(); limit > 0 && ttl > limit {
			add("token %s ttl must be <= %s", kind, limit)
		}
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		add("token access_ttl must be shorter than refresh_ttl")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		add("token leeway must be within [0, 2m]")
	}

	switch c.Revocation.Backend {
	case RevocationMemory, RevocationRedis, RevocationPostgres, RevocationNone:
	default:
		add("unknown revocation backend %q", c.Revocation.Backend)
	}
	if c.Revocation.CleanupThreshold < 0 {
		add("revocation cleanup_threshold must be >= 0")
	}

	if c.Compliance.Enabled && len(c.Compliance.Frameworks) == 0 {
		add("compliance requires at least one framework")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("audit buffer_size must be > 0")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}
