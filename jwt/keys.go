package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MrEthical07/goToken/internal"
)

// DefaultRotationGrace is how long a retired key keeps verifying when the
// caller configures nothing else.
const DefaultRotationGrace = 24 * time.Hour

const (
	minHMACSecretBytes = 32
	devRSABits         = 2048
	prodRSABits        = 4096
)

// KeyConfig configures a [KeyManager].
type KeyConfig struct {
	Method SigningMethod

	// Secret is the HMAC key for hs256.
	Secret []byte

	// PrivateKeyPEM injects an externally managed key pair for asymmetric
	// methods. When empty a pair is generated.
	PrivateKeyPEM []byte

	Production bool

	// RSABits overrides the generated modulus size. Defaults to 4096 in
	// production and 2048 otherwise.
	RSABits int

	// RotationGrace is how long a retired key keeps verifying tokens.
	RotationGrace time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

type signingKey struct {
	kid       string
	sign      any
	verify    any
	retiredAt time.Time
}

type keySet struct {
	active  *signingKey
	retired []*signingKey
}

// KeyManager holds the active signing key and any retired keys still inside
// their grace window. Lookups are lock-free; rotations are serialized.
type KeyManager struct {
	method     SigningMethod
	production bool
	rsaBits    int
	grace      time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	keys atomic.Pointer[keySet]
}

func NewKeyManager(cfg KeyConfig) (*KeyManager, error) {
	if !cfg.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Method)
	}
	if cfg.RotationGrace < 0 {
		return nil, errors.New("invalid rotation grace")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RSABits == 0 {
		cfg.RSABits = devRSABits
		if cfg.Production {
			cfg.RSABits = prodRSABits
		}
	}
	if cfg.RSABits < devRSABits {
		return nil, fmt.Errorf("%w: rsa modulus must be at least %d bits", ErrInvalidKey, devRSABits)
	}

	m := &KeyManager{
		method:     cfg.Method,
		production: cfg.Production,
		rsaBits:    cfg.RSABits,
		grace:      cfg.RotationGrace,
		logger:     cfg.Logger.Named("jwt"),
		now:        cfg.Now,
	}

	var (
		k   *signingKey
		err error
	)
	switch {
	case cfg.Method == MethodHS256:
		k, err = hmacKey(cfg.Secret)
	case len(cfg.PrivateKeyPEM) > 0:
		k, err = parsePrivateKey(cfg.Method, cfg.PrivateKeyPEM)
	default:
		k, err = m.generate()
	}
	if err != nil {
		return nil, err
	}
	m.keys.Store(&keySet{active: k})

	if cfg.Method == MethodHS256 && cfg.Production {
		m.logger.Warn("symmetric signing algorithm in production; an asymmetric algorithm (rs256, es256, ed25519) is recommended",
			zap.String("algorithm", string(cfg.Method)))
	}
	m.logger.Info("signing key ready", zap.String("algorithm", string(cfg.Method)), zap.String("kid", k.kid))
	return m, nil
}

func (m *KeyManager) Algorithm() SigningMethod { return m.method }

func (m *KeyManager) ActiveKeyID() string { return m.keys.Load().active.kid }

// SigningKey returns the active kid and the key handed to the JWT signer:
// []byte for hs256, otherwise a crypto.Signer.
func (m *KeyManager) SigningKey() (string, any) {
	k := m.keys.Load().active
	return k.kid, k.sign
}

// VerificationKey resolves kid against the active key and retired keys that
// are still inside the grace window.
func (m *KeyManager) VerificationKey(kid string) (any, error) {
	set := m.keys.Load()
	if kid != "" && kid == set.active.kid {
		return set.active.verify, nil
	}
	now := m.now()
	for _, k := range set.retired {
		if k.kid == kid && m.inGrace(k, now) {
			return k.verify, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// RetainedKeys reports how many retired keys can still verify.
func (m *KeyManager) RetainedKeys() int {
	now := m.now()
	n := 0
	for _, k := range m.keys.Load().retired {
		if m.inGrace(k, now) {
			n++
		}
	}
	return n
}

// Rotate generates a new key pair for asymmetric methods and retires the old
// one. Symmetric keys only change through ReplaceSecret, so hs256 returns false.
func (m *KeyManager) Rotate() (bool, error) {
	if !m.method.Asymmetric() {
		m.logger.Info("signing key rotation skipped for symmetric algorithm", zap.String("algorithm", string(m.method)))
		return false, nil
	}

	next, err := m.generate()
	if err != nil {
		m.logger.Error("signing key rotation failed", zap.Error(err))
		return false, err
	}
	prev := m.install(next)
	m.logger.Info("signing key rotated",
		zap.String("kid", next.kid),
		zap.String("previous_kid", prev),
		zap.Duration("grace", m.grace))
	return true, nil
}

// ReplaceSecret swaps the hs256 key after the root secret rotated. The old key
// keeps verifying for the grace window.
func (m *KeyManager) ReplaceSecret(secret []byte) error {
	if m.method != MethodHS256 {
		return fmt.Errorf("%w: secret replacement requires hs256", ErrInvalidKey)
	}
	next, err := hmacKey(secret)
	if err != nil {
		return err
	}
	if next.kid == m.ActiveKeyID() {
		return nil
	}
	prev := m.install(next)
	m.logger.Info("signing secret replaced", zap.String("kid", next.kid), zap.String("previous_kid", prev))
	return nil
}

func (m *KeyManager) install(next *signingKey) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur := m.keys.Load()
	set := &keySet{active: next}
	if m.grace > 0 {
		old := *cur.active
		old.retiredAt = now
		set.retired = append(set.retired, &old)
		for _, k := range cur.retired {
			if m.inGrace(k, now) {
				set.retired = append(set.retired, k)
			}
		}
	}
	m.keys.Store(set)
	return cur.active.kid
}

func (m *KeyManager) inGrace(k *signingKey, now time.Time) bool {
	return now.Before(k.retiredAt.Add(m.grace))
}

func (m *KeyManager) generate() (*signingKey, error) {
	var signer crypto.Signer
	switch m.method {
	case MethodRS256:
		key, err := rsa.GenerateKey(rand.Reader, m.rsaBits)
		if err != nil {
			return nil, err
		}
		signer = key
	case MethodES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		signer = key
	case MethodEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		signer = key
	default:
		return nil, fmt.Errorf("%w: %q cannot generate key pairs", ErrUnsupportedAlgorithm, m.method)
	}
	return asymmetricKey(signer)
}

func hmacKey(secret []byte) (*signingKey, error) {
	if len(secret) < minHMACSecretBytes {
		return nil, fmt.Errorf("%w: hs256 secret must be at least %d bytes", ErrInvalidKey, minHMACSecretBytes)
	}
	key := append([]byte(nil), secret...)
	return &signingKey{kid: internal.KeyID(key), sign: key, verify: key}, nil
}

func asymmetricKey(signer crypto.Signer) (*signingKey, error) {
	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &signingKey{kid: internal.KeyID(der), sign: signer, verify: signer.Public()}, nil
}

func parsePrivateKey(method SigningMethod, pem []byte) (*signingKey, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch method {
	case MethodRS256:
		var key *rsa.PrivateKey
		key, err = gjwt.ParseRSAPrivateKeyFromPEM(pem)
		if err == nil && key.N.BitLen() < devRSABits {
			err = fmt.Errorf("rsa modulus %d bits too small", key.N.BitLen())
		}
		signer = key
	case MethodES256:
		var key *ecdsa.PrivateKey
		key, err = gjwt.ParseECPrivateKeyFromPEM(pem)
		if err == nil && key.Curve != elliptic.P256() {
			err = errors.New("es256 requires a P-256 key")
		}
		signer = key
	case MethodEd25519:
		var key crypto.PrivateKey
		key, err = gjwt.ParseEdPrivateKeyFromPEM(pem)
		if err == nil {
			ed, ok := key.(ed25519.PrivateKey)
			if !ok {
				err = errors.New("invalid ed25519 private key type")
			}
			signer = ed
		}
	default:
		err = fmt.Errorf("%q does not take a private key", method)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return asymmetricKey(signer)
}
