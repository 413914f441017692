package goToken

import (
	"errors"

	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/secret"
	"github.com/MrEthical07/goToken/token"
)

var (
	// ErrSecretUnavailable means no signing secret could be resolved. In
	// production this is fatal; there is no generated fallback.
	ErrSecretUnavailable = secret.ErrUnavailable
	// ErrSecretValidation means a resolved or supplied secret failed the
	// strength policy.
	ErrSecretValidation = secret.ErrValidation
	// ErrConfiguration wraps every invalid-configuration failure of Build.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrTokenInvalid is the only error the decode path returns.
	ErrTokenInvalid = token.ErrInvalid
	// ErrEncryption wraps subject encryption failures.
	ErrEncryption = payload.ErrDecrypt
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrRevocationUnavailable means the revocation backend could not record a
	// revocation.
	ErrRevocationUnavailable = errors.New("revocation backend unavailable")
	// ErrRotationFailed is returned alongside a failed rotation result.
	ErrRotationFailed = errors.New("rotation failed")
)
