package token

import (
	"strings"
	"time"
)

type createOptions struct {
	ttl            time.Duration
	ttlSet         bool
	encryptSubject bool
	deviceFP       string
}

// CreateOption tunes a single issuance.
type CreateOption func(*createOptions)

// WithTTL overrides the kind's default lifetime. Zero or negative values
// produce an already expired token.
func WithTTL(ttl time.Duration) CreateOption {
	return func(o *createOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithEncryptedSubject replaces sub with sub_enc and encrypted=true.
func WithEncryptedSubject() CreateOption {
	return func(o *createOptions) { o.encryptSubject = true }
}

// WithDeviceFingerprint binds the token to fp, 64 hex chars in either case.
// The claim is always written lowercase.
func WithDeviceFingerprint(fp string) CreateOption {
	return func(o *createOptions) { o.deviceFP = strings.ToLower(fp) }
}

type decodeOptions struct {
	deviceFP  string
	deviceSet bool
}

// DecodeOption tunes a single Decode.
type DecodeOption func(*decodeOptions)

// WithExpectedDevice rejects tokens whose device_fp differs from fp, including
// tokens that carry no binding at all. fp is compared case-insensitively.
func WithExpectedDevice(fp string) DecodeOption {
	return func(o *decodeOptions) {
		o.deviceFP = strings.ToLower(fp)
		o.deviceSet = true
	}
}
