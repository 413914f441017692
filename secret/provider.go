package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrEthical07/goToken/internal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEnvVar    = "JWT_SECRET_KEY"
	DefaultStoreName = "gotoken/signing-secret"

	defaultRotationInterval = 90 * 24 * time.Hour
	generatedSecretBytes    = 32
	maxGenerateAttempts     = 8
)

// ProviderConfig configures a [Provider].
type ProviderConfig struct {
	// Explicit wins over every other source when non-empty.
	Explicit string
	// EnvVar names the environment variable consulted after the store.
	EnvVar string
	// Store is optional. Rotation in production requires it.
	Store            Store
	StoreName        string
	LookupTimeout    time.Duration
	RotationInterval time.Duration
	Logger           *zap.Logger

	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

type cachedSecret struct {
	value Secret
	meta  Metadata
}

// Provider resolves the root signing secret per environment and caches it for
// the life of the process.
type Provider struct {
	cfg    ProviderConfig
	logger *zap.Logger

	mu    sync.Mutex
	cache map[Environment]cachedSecret
}

func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.EnvVar == "" {
		cfg.EnvVar = DefaultEnvVar
	}
	if cfg.StoreName == "" {
		cfg.StoreName = DefaultStoreName
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = defaultRotationInterval
	}
	if cfg.lookupEnv == nil {
		cfg.lookupEnv = os.LookupEnv
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.Named("secret"),
		cache:  make(map[Environment]cachedSecret),
	}
}

// SigningSecret returns the signing secret for env, resolving and validating it
// on first use.
//
// Production returns ErrUnavailable when no source yields a value. Any resolved
// value that fails the strength policy returns ErrValidation.
func (p *Provider) SigningSecret(ctx context.Context, env Environment) (Secret, error) {
	if !env.Valid() {
		return Secret{}, fmt.Errorf("%w: unknown environment %q", ErrUnavailable, env)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cache[env]; ok {
		return c.value, nil
	}

	value, source, err := p.resolve(ctx, env)
	if err != nil {
		return Secret{}, err
	}
	if err := CheckStrength(value, KindSigning, env); err != nil {
		p.logger.Error("resolved signing secret rejected",
			zap.String("environment", env.String()),
			zap.String("source", string(source)),
			zap.Int("length", len(value)),
			zap.String("reason", err.Error()),
		)
		return Secret{}, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	now := p.cfg.now()
	c := cachedSecret{
		value: New(value),
		meta: Metadata{
			ID:               uuid.NewString(),
			Kind:             KindSigning,
			Environment:      env,
			Source:           source,
			CreatedAt:        now,
			RotationInterval: p.cfg.RotationInterval,
			Version:          1,
		},
	}
	p.cache[env] = c
	p.logger.Info("signing secret resolved",
		zap.String("environment", env.String()),
		zap.String("source", string(source)),
		zap.Int("length", len(value)),
	)
	return c.value, nil
}

func (p *Provider) resolve(ctx context.Context, env Environment) (string, Source, error) {
	if p.cfg.Explicit != "" {
		return p.cfg.Explicit, SourceExplicit, nil
	}

	var storeErr error
	if p.cfg.Store != nil {
		var value string
		err := callStore(ctx, p.cfg.LookupTimeout, p.logger, "get", func(ctx context.Context) error {
			v, err := p.cfg.Store.GetSecret(ctx, p.cfg.StoreName)
			value = v
			return err
		})
		switch {
		case err == nil && value != "":
			return value, SourceStore, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			storeErr = err
			p.logger.Warn("secret store lookup failed",
				zap.String("environment", env.String()),
				zap.Error(err),
			)
		}
	}

	if v, ok := p.cfg.lookupEnv(p.cfg.EnvVar); ok && v != "" {
		return v, SourceEnv, nil
	}

	if env.Production() {
		if storeErr != nil {
			return "", "", fmt.Errorf("%w: no signing secret for %s: %v", ErrUnavailable, env, storeErr)
		}
		return "", "", fmt.Errorf("%w: no signing secret for %s", ErrUnavailable, env)
	}

	if env == Testing {
		for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
			v := internal.DeterministicValue("gotoken-signing-secret:"+env.String(), attempt)
			if CheckStrength(v, KindSigning, env) == nil {
				return v, SourceDeterministic, nil
			}
		}
		return "", "", fmt.Errorf("%w: deterministic fallback failed strength policy", ErrUnavailable)
	}

	v, err := generateStrong(env)
	if err != nil {
		return "", "", err
	}
	if env == Staging {
		p.logger.Warn("staging is running on a generated signing secret; tokens will not survive a restart")
	}
	return v, SourceGenerated, nil
}

func generateStrong(env Environment) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		v, err := internal.NewSecretValue(generatedSecretBytes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if CheckStrength(v, KindSigning, env) == nil {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate a secret that meets the strength policy", ErrUnavailable)
}

// Metadata returns the metadata of the cached secret for env.
func (p *Provider) Metadata(env Environment) (Metadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cache[env]
	return c.meta, ok
}

// Rotate replaces the signing secret for env. An empty newSecret asks the
// provider to generate one.
//
// The new value is validated, then persisted to the store. The cache only
// changes after persistence succeeds. Without a store, production rotation
// fails and other environments rotate in memory only.
func (p *Provider) Rotate(ctx context.Context, env Environment, newSecret string) RotationResult {
	now := p.cfg.now()
	result := RotationResult{
		RotationID:  uuid.NewString(),
		Environment: env,
		RotatedAt:   now,
	}
	fail := func(reason string) RotationResult {
		result.Reason = reason
		p.logger.Warn("signing secret rotation failed",
			zap.String("rotation_id", result.RotationID),
			zap.String("environment", env.String()),
			zap.String("reason", reason),
		)
		return result
	}

	if !env.Valid() {
		return fail("unknown environment")
	}

	if newSecret == "" {
		v, err := generateStrong(env)
		if err != nil {
			return fail(err.Error())
		}
		newSecret = v
	}
	result.NewLength = len(newSecret)

	if err := CheckStrength(newSecret, KindSigning, env); err != nil {
		return fail("validation: " + err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, hasCurrent := p.cache[env]
	if hasCurrent {
		result.OldLength = current.value.Len()
		if current.value.Equal(New(newSecret)) {
			return fail("new secret matches the current secret")
		}
	}

	source := SourceRotation
	if p.cfg.Store != nil {
		err := callStore(ctx, p.cfg.LookupTimeout, p.logger, "put", func(ctx context.Context) error {
			return p.cfg.Store.PutSecret(ctx, p.cfg.StoreName, newSecret)
		})
		if err != nil {
			return fail("store unavailable: " + err.Error())
		}
		source = SourceStore
	} else if env.Production() {
		return fail("no secret store configured; production rotation must be persisted")
	}

	meta := current.meta
	if !hasCurrent {
		meta = Metadata{
			ID:               uuid.NewString(),
			Kind:             KindSigning,
			Environment:      env,
			CreatedAt:        now,
			RotationInterval: p.cfg.RotationInterval,
		}
	}
	meta.Version++
	meta.RotatedAt = now
	meta.Source = source

	p.cache[env] = cachedSecret{value: New(newSecret), meta: meta}

	result.Success = true
	result.Version = meta.Version
	p.logger.Info("signing secret rotated",
		zap.String("rotation_id", result.RotationID),
		zap.String("environment", env.String()),
		zap.Int("old_length", result.OldLength),
		zap.Int("new_length", result.NewLength),
		zap.Int("version", result.Version),
	)
	return result
}
