package payload

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF names a password-based key derivation function.
type KDF string

const (
	KDFPBKDF2   KDF = "pbkdf2-sha256"
	KDFArgon2id KDF = "argon2id"
)

const (
	SaltSize = 16
	KeySize  = 32

	MinPBKDF2Iterations     = 100_000
	DefaultPBKDF2Iterations = 210_000
)

// ErrInvalidParams is returned for unusable derivation parameters or salts.
var ErrInvalidParams = errors.New("invalid key derivation parameters")

// Params selects and tunes the KDF.
type Params struct {
	KDF        KDF
	Iterations int

	// Argon2id only.
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultParams returns PBKDF2-HMAC-SHA256 with 210k iterations.
func DefaultParams() Params {
	return Params{
		KDF:        KDFPBKDF2,
		Iterations: DefaultPBKDF2Iterations,
		Memory:     64 * 1024,
		Time:       3,
		Threads:    2,
	}
}

func (p Params) Validate() error {
	switch p.KDF {
	case KDFPBKDF2, "":
		if p.Iterations < MinPBKDF2Iterations {
			return fmt.Errorf("%w: pbkdf2 iterations must be >= %d", ErrInvalidParams, MinPBKDF2Iterations)
		}
	case KDFArgon2id:
		if p.Memory < 8*1024 {
			return fmt.Errorf("%w: argon2id memory must be >= 8192 KiB", ErrInvalidParams)
		}
		if p.Time < 1 {
			return fmt.Errorf("%w: argon2id time must be >= 1", ErrInvalidParams)
		}
		if p.Threads < 1 {
			return fmt.Errorf("%w: argon2id threads must be >= 1", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown kdf %q", ErrInvalidParams, p.KDF)
	}
	return nil
}

// KeyMaterial is a derived key together with the salt it came from.
type KeyMaterial struct {
	Salt []byte
	Key  []byte
	ID   [4]byte
}

// DeriveKey stretches secret into a 32-byte key. The salt must be exactly
// SaltSize bytes.
func DeriveKey(secret, salt []byte, p Params) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParams)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrInvalidParams, SaltSize)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.KDF {
	case KDFArgon2id:
		return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, KeySize), nil
	default:
		return pbkdf2.Key(secret, salt, p.Iterations, KeySize, sha256.New), nil
	}
}

// Derive returns the full key material for secret and salt.
func Derive(secret, salt []byte, p Params) (KeyMaterial, error) {
	key, err := DeriveKey(secret, salt, p)
	if err != nil {
		return KeyMaterial{}, err
	}
	km := KeyMaterial{
		Salt: append([]byte(nil), salt...),
		Key:  key,
	}
	sum := sha256.Sum256(key)
	copy(km.ID[:], sum[:4])
	return km, nil
}

// DeriveSalt derives a deterministic SaltSize salt from secret, scoped by
// scope (typically the environment name). Re-initialising with the same
// inputs reproduces the same salt.
func DeriveSalt(secret []byte, scope string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("payload-salt:" + scope))
	return mac.Sum(nil)[:SaltSize]
}

// ResolveSalt returns explicit when set. Otherwise production is an error and
// other tiers get [DeriveSalt].
func ResolveSalt(explicit, secret []byte, scope string, production bool) ([]byte, error) {
	if len(explicit) > 0 {
		if len(explicit) != SaltSize {
			return nil, fmt.Errorf("%w: salt must be %d bytes", ErrInvalidParams, SaltSize)
		}
		return append([]byte(nil), explicit...), nil
	}
	if production {
		return nil, fmt.Errorf("%w: production requires an explicit salt", ErrInvalidParams)
	}
	return DeriveSalt(secret, scope), nil
}
