package goToken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goToken/internal/audit"
	"github.com/MrEthical07/goToken/device"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/revocation"
	"github.com/MrEthical07/goToken/secret"
	"github.com/MrEthical07/goToken/token"
)

// Engine issues, verifies, revokes and rotates tokens. It is built once by
// [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config Config
	env    secret.Environment
	logger *zap.Logger
	now    func() time.Time

	secrets         *secret.Provider
	secretStoreName string
	keys            *jwt.KeyManager
	signer          *jwt.Manager

	cipher              *payload.Cipher
	cipherFollowsSecret bool
	explicitSalt        bool
	masterSecret        secret.Secret

	codec             *token.Codec
	revocations       revocation.Store
	revocationBackend string
	closers           []func()

	fingerprinter *device.Fingerprinter
	metrics       *Metrics
	audit         *internalaudit.Dispatcher

	rotateMu  sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// TokenPair is the result of IssueTokenPair and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

func (e *Engine) ready() error {
	if e == nil || e.codec == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Close stops the audit dispatcher and releases backends the engine opened.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.audit != nil {
			e.audit.Close()
		}
		for i := len(e.closers) - 1; i >= 0; i-- {
			e.closers[i]()
		}
		if e.logger != nil {
			_ = e.logger.Sync()
		}
	})
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType splits AuditDropped by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.DroppedByType()
}

// AuditSinkPanics counts events lost to a panicking audit sink.
func (e *Engine) AuditSinkPanics() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.SinkPanics()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Environment is the deployment tier the engine was built for.
func (e *Engine) Environment() secret.Environment { return e.env }

// Algorithm is the configured signing method.
func (e *Engine) Algorithm() jwt.SigningMethod { return e.keys.Algorithm() }

/*
====================================
ISSUANCE
====================================
*/

// IssueToken signs claims as a token of kind. claims must carry a non-empty
// string "sub".
func (e *Engine) IssueToken(ctx context.Context, claims map[string]any, kind token.Kind, opts ...token.CreateOption) (string, error) {
	issued, err := e.issue(ctx, claims, kind, opts...)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

func (e *Engine) issue(ctx context.Context, claims map[string]any, kind token.Kind, opts ...token.CreateOption) (*token.Issued, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	issued, err := e.codec.Issue(claims, kind, opts...)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, AuditTokenIssued, true, issued.Claims, "", nil)
	return issued, nil
}

// IssueTokenPair issues an access and a refresh token for the same claims.
// Options apply to both tokens.
func (e *Engine) IssueTokenPair(ctx context.Context, claims map[string]any, opts ...token.CreateOption) (*TokenPair, error) {
	access, err := e.issue(ctx, claims, token.KindAccess, opts...)
	if err != nil {
		return nil, err
	}
	refresh, err := e.issue(ctx, claims, token.KindRefresh, opts...)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricTokenPairIssued)
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.Claims.ExpiresAt,
		RefreshExpiresAt: refresh.Claims.ExpiresAt,
		TokenType:        "Bearer",
	}, nil
}

/*
====================================
VERIFICATION
====================================
*/

// DecodeToken verifies raw as a token of kind. Every failure is
// ErrTokenInvalid.
func (e *Engine) DecodeToken(ctx context.Context, raw string, kind token.Kind, opts ...token.DecodeOption) (*token.Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.codec.Decode(ctx, raw, kind, opts...)
}

// Authenticate extracts the bearer token from r and decodes it as kind. With
// device binding enabled, the token must be bound to r's fingerprint. The
// returned context carries the client IP for downstream audit events.
func (e *Engine) Authenticate(ctx context.Context, r *http.Request, kind token.Kind) (context.Context, *token.Claims, error) {
	if err := e.ready(); err != nil {
		return ctx, nil, err
	}
	if r == nil {
		return ctx, nil, ErrTokenInvalid
	}

	var opts []token.DecodeOption
	if meta, err := e.fingerprinter.Metadata(r); err == nil {
		ctx = WithClientIP(ctx, meta.IP)
		if e.config.DeviceBinding.Enabled {
			opts = append(opts, token.WithExpectedDevice(e.fingerprinter.Fingerprint(meta)))
		}
	} else if e.config.DeviceBinding.Enabled {
		e.metrics.Inc(MetricDeviceFallback)
		opts = append(opts, token.WithExpectedDevice(device.Fallback))
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = WithUserAgent(ctx, ua)
	}

	raw, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		e.metrics.Inc(MetricDecodeRejected)
		e.metrics.Inc(MetricRejectMalformed)
		e.emitAudit(ctx, AuditTokenRejected, false, nil, string(token.ReasonMalformed), func() map[string]string {
			return map[string]string{"expected_kind": string(kind), "cause": "missing_bearer"}
		})
		return ctx, nil, ErrTokenInvalid
	}

	claims, err := e.codec.Decode(ctx, raw, kind, opts...)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, claims, nil
}

// DeviceFingerprint returns the fingerprint device-bound tokens issued for r
// should carry.
func (e *Engine) DeviceFingerprint(r *http.Request) string {
	fp := e.fingerprinter.FromRequest(r)
	if fp == device.Fallback {
		e.metrics.Inc(MetricDeviceFallback)
	}
	return fp
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const bearer = "Bearer "
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", false
	}
	return raw, true
}

/*
====================================
REFRESH / REVOCATION
====================================
*/

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked first so that it can be used once: of concurrent callers presenting
// the same token only one gets a pair, the rest get ErrTokenInvalid. If the
// revocation itself fails the refresh fails.
// Device binding and subject encryption carry over to the new pair.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, opts ...token.DecodeOption) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	old, err := e.codec.Decode(ctx, refreshToken, token.KindRefresh, opts...)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, err
	}

	first, err := e.revokeOnce(ctx, old)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditTokenRefreshed, false, old, "revoke_failed", nil)
		return nil, err
	}
	if !first {
		e.metrics.Inc(MetricRefreshFailure)
		e.metrics.Inc(MetricDecodeRejected)
		e.metrics.Inc(MetricRejectRevoked)
		e.emitAudit(ctx, AuditTokenRefreshed, false, old, "replayed", nil)
		return nil, ErrTokenInvalid
	}

	var createOpts []token.CreateOption
	if old.DeviceFingerprint != "" {
		createOpts = append(createOpts, token.WithDeviceFingerprint(old.DeviceFingerprint))
	}
	if old.SubjectEncrypted() {
		createOpts = append(createOpts, token.WithEncryptedSubject())
	}
	pair, err := e.IssueTokenPair(ctx, old.Map(), createOpts...)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditTokenRefreshed, false, old, "issue_failed", nil)
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditTokenRefreshed, true, old, "", nil)
	return pair, nil
}

// Revoke verifies raw and records its jti as revoked until the token expires.
// Any kind is accepted. Revoking an already revoked token succeeds.
func (e *Engine) Revoke(ctx context.Context, raw string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.codec.Peek(raw)
	if err != nil {
		return err
	}
	return e.revoke(ctx, claims)
}

// RevokeID revokes a jti directly, for callers that stored it at issuance.
func (e *Engine) RevokeID(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.revoke(ctx, &token.Claims{ID: jti, ExpiresAt: expiresAt})
}

func (e *Engine) revoke(ctx context.Context, claims *token.Claims) error {
	if e.revocations == nil {
		e.logger.Warn("revocation requested without a backend", zap.String("jti", claims.ID))
		return nil
	}
	if err := e.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return e.revocationFailed(ctx, claims, err)
	}
	e.metrics.Inc(MetricTokenRevoked)
	e.emitAudit(ctx, AuditTokenRevoked, true, claims, "", nil)
	return nil
}

// revokeOnce reports whether this call revoked claims. Without a backend
// every call wins.
func (e *Engine) revokeOnce(ctx context.Context, claims *token.Claims) (bool, error) {
	if e.revocations == nil {
		e.logger.Warn("single-use refresh without a revocation backend", zap.String("jti", claims.ID))
		return true, nil
	}
	first, err := e.revocations.RevokeOnce(ctx, claims.ID, claims.ExpiresAt)
	if err != nil {
		return false, e.revocationFailed(ctx, claims, err)
	}
	if first {
		e.metrics.Inc(MetricTokenRevoked)
		e.emitAudit(ctx, AuditTokenRevoked, true, claims, "", nil)
	}
	return first, nil
}

func (e *Engine) revocationFailed(ctx context.Context, claims *token.Claims, err error) error {
	e.metrics.Inc(MetricRevocationFailure)
	e.logger.Error("revocation failed",
		zap.String("backend", e.revocationBackend),
		zap.String("jti", claims.ID),
		zap.Error(err))
	if errors.Is(err, revocation.ErrInvalidID) || errors.Is(err, revocation.ErrInvalidTTL) {
		return err
	}
	e.emitAudit(ctx, AuditRevocationDegraded, false, claims, e.revocationBackend, nil)
	return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
}

/*
====================================
ROTATION
====================================
*/

// RotateSecret replaces the signing secret. An empty newSecret generates one.
// On success the HS256 signing key, and the payload cipher when it is keyed
// from the signing secret, are re-keyed; tokens signed or encrypted under the
// old secret keep verifying for the configured grace period.
func (e *Engine) RotateSecret(ctx context.Context, newSecret string) (secret.RotationResult, error) {
	if err := e.ready(); err != nil {
		return secret.RotationResult{}, err
	}
	e.rotateMu.Lock()
	defer e.rotateMu.Unlock()

	result := e.secrets.Rotate(ctx, e.env, newSecret)
	if !result.Success {
		e.metrics.Inc(MetricSecretRotationFailure)
		e.emitAudit(ctx, AuditSecretRotated, false, nil, result.Reason, rotationMetadata(result))
		return result, fmt.Errorf("%w: %s", ErrRotationFailed, result.Reason)
	}

	current, err := e.secrets.SigningSecret(ctx, e.env)
	if err == nil && e.keys.Algorithm() == jwt.MethodHS256 {
		err = e.keys.ReplaceSecret(current.Reveal())
	}
	if err == nil && e.cipher != nil && e.cipherFollowsSecret {
		salt := e.cipher.Salt()
		if !e.explicitSalt {
			salt = payload.DeriveSalt(current.Reveal(), e.env.String())
		}
		err = e.rekeyCipher(current, salt)
	}
	if err != nil {
		// The provider already holds the new value; callers must retry the
		// dependent re-key before the old key leaves its grace window.
		e.metrics.Inc(MetricSecretRotationFailure)
		result.Reason = "propagation: " + err.Error()
		e.emitAudit(ctx, AuditSecretRotated, false, nil, result.Reason, rotationMetadata(result))
		return result, fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}

	e.metrics.Inc(MetricSecretRotation)
	e.emitAudit(ctx, AuditSecretRotated, true, nil, "", rotationMetadata(result))
	return result, nil
}

func rotationMetadata(r secret.RotationResult) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"rotation_id": r.RotationID,
			"environment": r.Environment.String(),
			"version":     fmt.Sprint(r.Version),
		}
	}
}

// RotateSigningKey generates a new asymmetric key pair. It reports false for
// HS256, whose key only changes through RotateSecret.
func (e *Engine) RotateSigningKey(ctx context.Context) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	e.rotateMu.Lock()
	defer e.rotateMu.Unlock()

	previous := e.keys.ActiveKeyID()
	rotated, err := e.keys.Rotate()
	if err != nil {
		e.emitAudit(ctx, AuditSigningKeyRotated, false, nil, err.Error(), nil)
		return false, fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}
	if rotated {
		e.metrics.Inc(MetricSigningKeyRotation)
		e.emitAudit(ctx, AuditSigningKeyRotated, true, nil, "", func() map[string]string {
			return map[string]string{"kid": e.keys.ActiveKeyID(), "previous_kid": previous}
		})
	}
	return rotated, nil
}

// RotateEncryptionKey re-derives the payload key under a new salt. A nil salt
// draws a random one. Subjects encrypted under the previous key keep
// decrypting for the configured grace period.
func (e *Engine) RotateEncryptionKey(ctx context.Context, salt []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.cipher == nil {
		return fmt.Errorf("%w: encryption is disabled", ErrConfiguration)
	}
	e.rotateMu.Lock()
	defer e.rotateMu.Unlock()

	if err := e.rekeyCipher(e.masterSecret, salt); err != nil {
		e.emitAudit(ctx, AuditEncryptionRotated, false, nil, err.Error(), nil)
		return fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}
	e.emitAudit(ctx, AuditEncryptionRotated, true, nil, "", func() map[string]string {
		return map[string]string{"key_id": e.cipher.KeyID()}
	})
	return nil
}

// rekeyCipher installs master under salt. An empty salt is drawn at random.
func (e *Engine) rekeyCipher(master secret.Secret, salt []byte) error {
	if err := e.cipher.Rotate(master.Reveal(), salt); err != nil {
		return err
	}
	e.masterSecret = master
	e.metrics.Inc(MetricEncryptionKeyRotation)
	return nil
}

/*
====================================
INTROSPECTION
====================================
*/

// JWKS returns the public signing keys as a JSON Web Key Set. HS256 has no
// public keys and returns jwt.ErrNoPublicKeys.
func (e *Engine) JWKS(ctx context.Context) (json.RawMessage, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.keys.JWKS(ctx)
}

// SecretMetadata describes the cached signing secret. ok is false when the
// signing method never needed one.
func (e *Engine) SecretMetadata() (secret.Metadata, bool) {
	if e.ready() != nil {
		return secret.Metadata{}, false
	}
	return e.secrets.Metadata(e.env)
}

// SecurityAudit scores the running configuration. It probes the payload
// cipher but changes nothing.
func (e *Engine) SecurityAudit(ctx context.Context) (AuditResult, error) {
	if err := e.ready(); err != nil {
		return AuditResult{}, err
	}
	now := e.now()
	in := securityInput{
		Environment:        e.env.String(),
		Production:         e.env.Production(),
		Algorithm:          e.keys.Algorithm().Alg(),
		Asymmetric:         e.keys.Algorithm().Asymmetric(),
		EncryptionEnabled:  e.cipher != nil,
		ExplicitSalt:       e.explicitSalt,
		AccessTTL:          e.codec.TTL(token.KindAccess),
		RefreshTTL:         e.codec.TTL(token.KindRefresh),
		ResetTTL:           e.codec.TTL(token.KindResetPassword),
		VerificationTTL:    e.codec.TTL(token.KindEmailVerification),
		Leeway:             e.signer.Leeway(),
		RevocationBackend:  e.revocationBackend,
		ComplianceRequired: e.config.Compliance.Required,
		ComplianceTagged:   e.config.Compliance.Enabled,
		Now:                now,
	}
	if meta, ok := e.secrets.Metadata(e.env); ok {
		in.SecretSource = string(meta.Source)
		in.RotationDue = meta.RotationDue(now)
		if s, err := e.secrets.SigningSecret(ctx, e.env); err == nil {
			in.SecretStrong, in.SecretReason = secret.ValidateStrength(string(s.Reveal()), secret.KindSigning, e.env)
		}
	}
	if e.cipher != nil {
		in.EncryptionProbe = e.cipher.Healthy()
	}

	result := runSecurityAudit(in)
	e.metrics.Inc(MetricSecurityAudit)
	e.emitAudit(ctx, AuditSecurityAuditRun, len(result.Failed()) == 0, nil, "", func() map[string]string {
		return map[string]string{
			"score":  fmt.Sprint(result.Score),
			"failed": strings.Join(result.Failed(), ","),
		}
	})
	if failed := result.Failed(); len(failed) > 0 {
		e.logger.Warn("security audit found issues", zap.Int("score", result.Score), zap.Strings("failed", failed))
	}
	return result, nil
}
