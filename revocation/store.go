package revocation

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUnavailable = errors.New("revocation store unavailable")
	ErrInvalidID   = errors.New("invalid token id")
	ErrInvalidTTL  = errors.New("invalid revocation expiry")
)

// Store records revoked jtis.
//
// Revoke is idempotent. RevokeOnce revokes atomically and reports whether
// this call was the one that revoked jti; concurrent callers racing on the
// same id see exactly one true. IsRevoked returns false for unknown ids and a
// non-nil error only when the backend could not answer.
type Store interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeOnce(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

func validate(jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return ErrInvalidID
	}
	if expiresAt.IsZero() {
		return ErrInvalidTTL
	}
	return nil
}
