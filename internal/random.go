package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
)

const keyIDLength = 16

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("invalid random length")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewSecretValue returns n random bytes as unpadded base64url.
func NewSecretValue(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeterministicValue derives a stable base64url value from label and attempt.
// Same inputs always yield the same value.
func DeterministicValue(label string, attempt int) string {
	sum := sha256.Sum256([]byte(label + ":" + strconv.Itoa(attempt)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// KeyID returns a short, stable hex identifier for key material.
func KeyID(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])[:keyIDLength]
}
