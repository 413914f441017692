package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goToken/device"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/revocation"
)

var (
	// ErrInvalid is the only error Decode returns. The cause is reported to
	// the Observer, never to the caller.
	ErrInvalid = errors.New("token invalid")

	ErrUnknownKind           = errors.New("unknown token kind")
	ErrReservedClaim         = errors.New("reserved claim")
	ErrMissingSubject        = errors.New("sub claim must be a non-empty string")
	ErrInvalidFingerprint    = errors.New("device fingerprint must be 64 lowercase hex chars")
	ErrEncryptionUnavailable = errors.New("subject encryption is not configured")
)

// RejectReason is the internal cause of a Decode failure.
type RejectReason string

const (
	ReasonMalformed             RejectReason = "malformed"
	ReasonSignature             RejectReason = "signature"
	ReasonUnknownKey            RejectReason = "unknown_key"
	ReasonExpired               RejectReason = "expired"
	ReasonIssuedAt              RejectReason = "issued_at"
	ReasonIssuer                RejectReason = "issuer"
	ReasonAudience              RejectReason = "audience"
	ReasonMissingClaims         RejectReason = "missing_claims"
	ReasonRevoked               RejectReason = "revoked"
	ReasonRevocationUnavailable RejectReason = "revocation_unavailable"
	ReasonKindMismatch          RejectReason = "kind_mismatch"
	ReasonDeviceMismatch        RejectReason = "device_mismatch"
	ReasonDecrypt               RejectReason = "decrypt"
)

// RejectReasons lists every reason in check order.
var RejectReasons = []RejectReason{
	ReasonMalformed,
	ReasonSignature,
	ReasonUnknownKey,
	ReasonExpired,
	ReasonIssuedAt,
	ReasonIssuer,
	ReasonAudience,
	ReasonMissingClaims,
	ReasonRevoked,
	ReasonRevocationUnavailable,
	ReasonKindMismatch,
	ReasonDeviceMismatch,
	ReasonDecrypt,
}

// Observer receives issuance and decode outcomes. Implementations must be
// cheap and must not block.
type Observer interface {
	TokenIssued(kind Kind, claims *Claims)
	// TokenDecoded is called once per Decode with the caller's ctx. reason is
	// empty on success.
	TokenDecoded(ctx context.Context, expected Kind, claims *Claims, reason RejectReason, elapsed time.Duration)
}

// Config configures a [Codec].
type Config struct {
	Signer *jwt.Manager

	// Cipher enables WithEncryptedSubject. Optional.
	Cipher *payload.Cipher

	// Revocations is consulted on every Decode. Optional.
	Revocations revocation.Store

	// TTLs overrides per-kind defaults. Values above a kind's cap are clamped.
	TTLs map[Kind]time.Duration

	// Compliance is attached to every issued token when set.
	Compliance *ComplianceTag

	Observer Observer
	Logger   *zap.Logger
}

// Codec issues and verifies bearer tokens.
type Codec struct {
	signer      *jwt.Manager
	cipher      *payload.Cipher
	revocations revocation.Store
	ttls        map[Kind]time.Duration
	compliance  *ComplianceTag
	observer    Observer
	logger      *zap.Logger
}

func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Signer == nil {
		return nil, errors.New("token codec requires a signer")
	}
	ttls := make(map[Kind]time.Duration, len(Kinds))
	for _, k := range Kinds {
		ttls[k] = k.DefaultTTL()
	}
	for k, ttl := range cfg.TTLs {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("ttl for %s must be positive", k)
		}
		ttls[k] = clampTTL(k, ttl)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Codec{
		signer:      cfg.Signer,
		cipher:      cfg.Cipher,
		revocations: cfg.Revocations,
		ttls:        ttls,
		compliance:  cfg.Compliance,
		observer:    cfg.Observer,
		logger:      cfg.Logger.Named("token"),
	}, nil
}

// TTL returns the effective default lifetime for kind.
func (c *Codec) TTL(kind Kind) time.Duration { return c.ttls[kind] }

func clampTTL(k Kind, ttl time.Duration) time.Duration {
	if limit := k.MaxTTL(); limit > 0 && ttl > limit {
		return limit
	}
	return ttl
}

// Issued describes a freshly signed token.
type Issued struct {
	Token  string
	Claims *Claims
}

// Create signs claims as a token of kind. See [Codec.Issue].
func (c *Codec) Create(claims map[string]any, kind Kind, opts ...CreateOption) (string, error) {
	issued, err := c.Issue(claims, kind, opts...)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

// Issue builds and signs a token. claims must carry a non-empty string sub and
// no reserved names. The codec adds exp, iat, jti, typ, iss and aud. A
// non-positive TTL produces a token that is already expired even allowing for
// parser leeway, with iat set one second before exp.
func (c *Codec) Issue(claims map[string]any, kind Kind, opts ...CreateOption) (*Issued, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	subject, ok := claims[claimSubject].(string)
	if !ok || subject == "" {
		return nil, ErrMissingSubject
	}
	extra := make(map[string]any, len(claims))
	for k, v := range claims {
		if k == claimSubject {
			continue
		}
		if IsReserved(k) {
			return nil, fmt.Errorf("%w: %q", ErrReservedClaim, k)
		}
		extra[k] = v
	}
	if o.deviceFP != "" && !device.Valid(o.deviceFP) {
		return nil, ErrInvalidFingerprint
	}

	ttl := c.ttls[kind]
	if o.ttlSet {
		ttl = clampTTL(kind, o.ttl)
	}
	now := c.signer.Now().Truncate(time.Second)
	exp := now.Add(ttl).Truncate(time.Second)
	iat := now
	if ttl <= 0 {
		exp = exp.Add(-c.signer.Leeway() - time.Second)
		iat = exp.Add(-time.Second)
	}

	out := &Claims{
		Subject:           subject,
		Kind:              kind,
		ID:                uuid.NewString(),
		Issuer:            c.signer.Issuer(),
		Audience:          []string{c.signer.Audience()},
		IssuedAt:          iat,
		ExpiresAt:         exp,
		DeviceFingerprint: o.deviceFP,
		Compliance:        c.compliance,
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	if o.encryptSubject {
		if c.cipher == nil {
			return nil, ErrEncryptionUnavailable
		}
		ct, err := c.cipher.Encrypt(subject)
		if err != nil {
			return nil, err
		}
		out.Subject = ""
		out.Encrypted = &EncryptedSubject{Ciphertext: ct}
	}

	signed, err := c.signer.Sign(out)
	if err != nil {
		return nil, err
	}

	if out.Encrypted != nil {
		out.Subject = subject
		out.Encrypted = nil
		out.subjectEncrypted = true
	}
	c.observer.TokenIssued(kind, out)
	return &Issued{Token: signed, Claims: out}, nil
}

// Decode verifies raw and returns its claims. Checks run in order: signature,
// exp, iat, iss, aud, required claims, revocation, typ, device binding, then
// subject decryption. Any failure returns ErrInvalid.
func (c *Codec) Decode(ctx context.Context, raw string, expected Kind, opts ...DecodeOption) (*Claims, error) {
	start := time.Now()
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	claims, reason := c.decode(ctx, raw, expected, o)
	elapsed := time.Since(start)
	if reason != "" {
		c.logger.Debug("token rejected",
			zap.String("expected_kind", string(expected)),
			zap.String("reason", string(reason)))
		c.observer.TokenDecoded(ctx, expected, nil, reason, elapsed)
		return nil, ErrInvalid
	}
	c.observer.TokenDecoded(ctx, expected, claims, "", elapsed)
	return claims, nil
}

// Peek verifies signature and time claims only, skipping revocation, kind and
// device checks. Revoke uses it to read jti and exp.
func (c *Codec) Peek(raw string) (*Claims, error) {
	claims := &Claims{}
	if err := c.signer.Parse(raw, claims); err != nil || !claims.hasRequired() {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (c *Codec) decode(ctx context.Context, raw string, expected Kind, o decodeOptions) (*Claims, RejectReason) {
	if raw == "" {
		return nil, ReasonMalformed
	}

	claims := &Claims{}
	if err := c.signer.Parse(raw, claims); err != nil {
		return nil, classify(err)
	}
	if !claims.hasRequired() {
		return nil, ReasonMissingClaims
	}

	if c.revocations != nil {
		revoked, err := c.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			c.logger.Warn("revocation lookup failed", zap.Error(err))
			return nil, ReasonRevocationUnavailable
		}
		if revoked {
			return nil, ReasonRevoked
		}
	}

	if claims.Kind != expected {
		return nil, ReasonKindMismatch
	}

	if o.deviceSet && !device.Equal(claims.DeviceFingerprint, o.deviceFP) {
		return nil, ReasonDeviceMismatch
	}

	if claims.Encrypted != nil {
		if c.cipher == nil {
			return nil, ReasonDecrypt
		}
		subject, err := c.cipher.Decrypt(claims.Encrypted.Ciphertext)
		if err != nil || subject == "" {
			return nil, ReasonDecrypt
		}
		claims.Subject = subject
		claims.Encrypted = nil
		claims.subjectEncrypted = true
	}
	return claims, ""
}

func classify(err error) RejectReason {
	switch {
	case errors.Is(err, jwt.ErrUnknownKey):
		return ReasonUnknownKey
	case errors.Is(err, gjwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, gjwt.ErrTokenSignatureInvalid), errors.Is(err, gjwt.ErrTokenUnverifiable):
		return ReasonSignature
	case errors.Is(err, gjwt.ErrTokenRequiredClaimMissing):
		return ReasonMissingClaims
	case errors.Is(err, gjwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, gjwt.ErrTokenUsedBeforeIssued):
		return ReasonIssuedAt
	case errors.Is(err, gjwt.ErrTokenInvalidIssuer):
		return ReasonIssuer
	case errors.Is(err, gjwt.ErrTokenInvalidAudience):
		return ReasonAudience
	default:
		return ReasonMalformed
	}
}

type nopObserver struct{}

func (nopObserver) TokenIssued(Kind, *Claims) {}

func (nopObserver) TokenDecoded(context.Context, Kind, *Claims, RejectReason, time.Duration) {}
