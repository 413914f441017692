package payload

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDecrypt covers malformed input, unknown keys, tampering, and wrong keys.
var ErrDecrypt = errors.New("payload decryption failed")

// DefaultRotationGrace keeps a retired payload key for a week.
const DefaultRotationGrace = 7 * 24 * time.Hour

const (
	formatVersion byte = 1
	keyIDSize          = 4
	nonceSize          = 12
	headerSize         = 1 + keyIDSize
	minSealedSize      = headerSize + nonceSize + 16
)

// Config configures a [Cipher].
type Config struct {
	Secret []byte
	Salt   []byte
	Params Params
	// RotationGrace keeps the previous key usable for decryption after Rotate.
	// Zero drops it immediately, leaving older ciphertexts undecryptable.
	RotationGrace time.Duration
	Now           func() time.Time
}

type ringKey struct {
	id        [keyIDSize]byte
	salt      []byte
	aead      cipher.AEAD
	retiredAt time.Time
}

type keyRing struct {
	active   *ringKey
	previous []*ringKey
}

// Cipher encrypts short claim values with AES-256-GCM under a key derived from
// the root secret. Ciphertexts are base64url(version | key id | nonce | sealed)
// with version and key id bound as associated data.
//
// Readers never lock: the key ring is swapped wholesale on rotation.
type Cipher struct {
	params Params
	grace  time.Duration
	now    func() time.Time

	mu   sync.Mutex
	ring atomic.Pointer[keyRing]
}

func NewCipher(cfg Config) (*Cipher, error) {
	if cfg.Params.KDF == "" && cfg.Params.Iterations == 0 {
		cfg.Params = DefaultParams()
	}
	if cfg.RotationGrace < 0 {
		return nil, fmt.Errorf("%w: negative rotation grace", ErrInvalidParams)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	k, err := newRingKey(cfg.Secret, cfg.Salt, cfg.Params)
	if err != nil {
		return nil, err
	}

	c := &Cipher{params: cfg.Params, grace: cfg.RotationGrace, now: cfg.Now}
	c.ring.Store(&keyRing{active: k})
	return c, nil
}

func newRingKey(secret, salt []byte, p Params) (*ringKey, error) {
	km, err := Derive(secret, salt, p)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ringKey{id: km.ID, salt: km.Salt, aead: aead}, nil
}

// Encrypt seals plaintext under the active key with a fresh random nonce, so
// two calls on the same input never produce the same output.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	k := c.ring.Load().active

	out := make([]byte, headerSize+nonceSize, headerSize+nonceSize+len(plaintext)+k.aead.Overhead())
	out[0] = formatVersion
	copy(out[1:headerSize], k.id[:])
	nonce := out[headerSize : headerSize+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("payload nonce: %w", err)
	}

	out = k.aead.Seal(out, nonce, []byte(plaintext), out[:headerSize])
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Every failure returns ErrDecrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < minSealedSize || raw[0] != formatVersion {
		return "", ErrDecrypt
	}

	k := c.lookup(raw[1:headerSize])
	if k == nil {
		return "", ErrDecrypt
	}

	nonce := raw[headerSize : headerSize+nonceSize]
	plain, err := k.aead.Open(nil, nonce, raw[headerSize+nonceSize:], raw[:headerSize])
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func (c *Cipher) lookup(id []byte) *ringKey {
	ring := c.ring.Load()
	if bytes.Equal(ring.active.id[:], id) {
		return ring.active
	}
	now := c.now()
	for _, k := range ring.previous {
		if bytes.Equal(k.id[:], id) && now.Before(k.retiredAt.Add(c.grace)) {
			return k
		}
	}
	return nil
}

// Rotate re-derives the active key from secret and salt. A nil salt draws a new
// random one. The outgoing key stays available for decryption for the
// configured grace period.
func (c *Cipher) Rotate(secret, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("payload salt: %w", err)
		}
	}
	next, err := newRingKey(secret, salt, c.params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cur := c.ring.Load()
	ring := &keyRing{active: next}
	if c.grace > 0 {
		retired := *cur.active
		retired.retiredAt = now
		ring.previous = append(ring.previous, &retired)
		for _, k := range cur.previous {
			if now.Before(k.retiredAt.Add(c.grace)) {
				ring.previous = append(ring.previous, k)
			}
		}
	}
	c.ring.Store(ring)
	return nil
}

// KeyID returns the hex id of the active key.
func (c *Cipher) KeyID() string {
	id := c.ring.Load().active.id
	return hex.EncodeToString(id[:])
}

// Salt returns a copy of the active salt.
func (c *Cipher) Salt() []byte {
	return append([]byte(nil), c.ring.Load().active.salt...)
}

// RetainedKeys reports how many retired keys can still decrypt.
func (c *Cipher) RetainedKeys() int {
	ring := c.ring.Load()
	now := c.now()
	n := 0
	for _, k := range ring.previous {
		if now.Before(k.retiredAt.Add(c.grace)) {
			n++
		}
	}
	return n
}

// Healthy round-trips a probe value through the active key without touching
// cipher state.
func (c *Cipher) Healthy() error {
	if c == nil || c.ring.Load() == nil {
		return errors.New("payload cipher not initialised")
	}
	const probe = "payload-cipher-health-probe"
	ct, err := c.Encrypt(probe)
	if err != nil {
		return err
	}
	pt, err := c.Decrypt(ct)
	if err != nil {
		return err
	}
	if pt != probe {
		return errors.New("payload cipher round trip mismatch")
	}
	return nil
}
