package jwt

import (
	"errors"
	"fmt"
	"strings"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// SigningMethod identifies a supported JWT signing algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodRS256   SigningMethod = "rs256"
	MethodES256   SigningMethod = "es256"
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrInvalidKey           = errors.New("invalid signing key")
	ErrUnknownKey           = errors.New("unknown key id")
)

// ParseSigningMethod accepts the lowercase method names as well as their JWA
// spellings (HS256, RS256, ES256, EdDSA).
func ParseSigningMethod(raw string) (SigningMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hs256":
		return MethodHS256, nil
	case "rs256":
		return MethodRS256, nil
	case "es256":
		return MethodES256, nil
	case "ed25519", "eddsa":
		return MethodEd25519, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, raw)
	}
}

func (m SigningMethod) Valid() bool {
	switch m {
	case MethodHS256, MethodRS256, MethodES256, MethodEd25519:
		return true
	}
	return false
}

// Asymmetric reports whether the method signs with a private key.
func (m SigningMethod) Asymmetric() bool {
	return m.Valid() && m != MethodHS256
}

// Alg returns the JWA name written to the alg header.
func (m SigningMethod) Alg() string {
	if jm := m.jwtMethod(); jm != nil {
		return jm.Alg()
	}
	return ""
}

func (m SigningMethod) jwtMethod() gjwt.SigningMethod {
	switch m {
	case MethodHS256:
		return gjwt.SigningMethodHS256
	case MethodRS256:
		return gjwt.SigningMethodRS256
	case MethodES256:
		return gjwt.SigningMethodES256
	case MethodEd25519:
		return gjwt.SigningMethodEdDSA
	default:
		return nil
	}
}
