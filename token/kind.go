package token

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the token type carried in the typ claim.
type Kind string

const (
	KindAccess            Kind = "access"
	KindRefresh           Kind = "refresh"
	KindResetPassword     Kind = "reset_password"
	KindEmailVerification Kind = "email_verification"
)

// Kinds lists every supported token kind.
var Kinds = []Kind{KindAccess, KindRefresh, KindResetPassword, KindEmailVerification}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindResetPassword, KindEmailVerification:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// DefaultTTL returns the lifetime used when neither config nor the caller
// picks one.
func (k Kind) DefaultTTL() time.Duration {
	switch k {
	case KindAccess:
		return 30 * time.Minute
	case KindRefresh:
		return 7 * 24 * time.Hour
	case KindResetPassword:
		return time.Hour
	case KindEmailVerification:
		return 24 * time.Hour
	default:
		return 0
	}
}

// MaxTTL caps single-purpose tokens. Zero means uncapped.
func (k Kind) MaxTTL() time.Duration {
	switch k {
	case KindResetPassword:
		return time.Hour
	case KindEmailVerification:
		return 24 * time.Hour
	default:
		return 0
	}
}
