package secret

import (
	"crypto/subtle"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when no usable secret can be resolved.
	ErrUnavailable = errors.New("secret unavailable")
	// ErrValidation is returned when a secret fails the strength policy.
	ErrValidation = errors.New("secret validation failed")
	// ErrNotFound is returned by a Store when the named secret does not exist.
	ErrNotFound = errors.New("secret not found")
)

const redacted = "[REDACTED]"

// Secret wraps raw secret material so that it never leaks through fmt, logging,
// or JSON encoding.
type Secret struct {
	value []byte
}

// New wraps a string value.
func New(value string) Secret {
	return Secret{value: []byte(value)}
}

// Reveal returns a copy of the raw bytes.
func (s Secret) Reveal() []byte {
	if len(s.value) == 0 {
		return nil
	}
	out := make([]byte, len(s.value))
	copy(out, s.value)
	return out
}

func (s Secret) Len() int {
	return len(s.value)
}

func (s Secret) IsZero() bool {
	return len(s.value) == 0
}

// Equal compares two secrets in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare(s.value, other.value) == 1
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Kind classifies managed secrets. Strength thresholds depend on the kind.
type Kind string

const (
	KindSigning          Kind = "signing_secret"
	KindEncryption       Kind = "encryption_key"
	KindDatabasePassword Kind = "database_password"
	KindAPIKey           Kind = "api_key"
)

// Source records where a cached secret came from.
type Source string

const (
	SourceExplicit      Source = "explicit"
	SourceStore         Source = "store"
	SourceEnv           Source = "env"
	SourceGenerated     Source = "generated"
	SourceDeterministic Source = "deterministic"
	SourceRotation      Source = "rotation"
)

// Metadata describes a managed secret. It is created on first resolution and
// only ever changed by rotation.
type Metadata struct {
	ID               string
	Kind             Kind
	Environment      Environment
	Source           Source
	CreatedAt        time.Time
	RotatedAt        time.Time
	RotationInterval time.Duration
	Version          int
}

// RotationDue reports whether the secret has outlived its rotation interval.
func (m Metadata) RotationDue(now time.Time) bool {
	if m.RotationInterval <= 0 {
		return false
	}
	last := m.RotatedAt
	if last.IsZero() {
		last = m.CreatedAt
	}
	return !now.Before(last.Add(m.RotationInterval))
}

// RotationResult is the structured outcome of [Provider.Rotate]. It never carries
// secret material.
type RotationResult struct {
	Success     bool
	RotationID  string
	Environment Environment
	OldLength   int
	NewLength   int
	Version     int
	RotatedAt   time.Time
	Reason      string
}
