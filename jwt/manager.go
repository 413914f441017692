package jwt

import (
	"errors"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// Config configures a [Manager].
type Config struct {
	Keys     *KeyManager
	Issuer   string
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Manager signs and parses compact JWTs with keys from a [KeyManager].
type Manager struct {
	keys   *KeyManager
	config Config
	parser *gjwt.Parser
}

// NewManager validates cfg and builds the parser once. Issuer and audience are
// mandatory; leeway may not exceed two minutes.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Keys == nil {
		return nil, errors.New("jwt manager requires a key manager")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" {
		return nil, errors.New("issuer must not be empty")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience must not be empty")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	options := []gjwt.ParserOption{
		gjwt.WithValidMethods([]string{cfg.Keys.Algorithm().Alg()}),
		gjwt.WithExpirationRequired(),
		gjwt.WithIssuedAt(),
		gjwt.WithIssuer(cfg.Issuer),
		gjwt.WithAudience(cfg.Audience),
		gjwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, gjwt.WithLeeway(cfg.Leeway))
	}

	return &Manager{keys: cfg.Keys, config: cfg, parser: gjwt.NewParser(options...)}, nil
}

func (m *Manager) Issuer() string   { return m.config.Issuer }
func (m *Manager) Audience() string { return m.config.Audience }
func (m *Manager) Now() time.Time   { return m.config.Now() }

func (m *Manager) Leeway() time.Duration { return m.config.Leeway }

// Sign serializes claims with the active key and sets the kid header.
func (m *Manager) Sign(claims gjwt.Claims) (string, error) {
	kid, key := m.keys.SigningKey()
	token := gjwt.NewWithClaims(m.keys.Algorithm().jwtMethod(), claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// Parse verifies the signature, pins the algorithm, then validates exp, iat,
// iss and aud into claims. Errors keep golang-jwt's sentinels
// (ErrTokenSignatureInvalid, ErrTokenExpired, ...) for classification.
func (m *Manager) Parse(tokenStr string, claims gjwt.Claims) error {
	token, err := m.parser.ParseWithClaims(tokenStr, claims, func(t *gjwt.Token) (any, error) {
		if t.Method.Alg() != m.keys.Algorithm().Alg() {
			return nil, gjwt.ErrTokenSignatureInvalid
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		return m.keys.VerificationKey(kid)
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return gjwt.ErrTokenInvalidClaims
	}
	return nil
}
