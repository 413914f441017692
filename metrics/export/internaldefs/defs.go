package internaldefs

import (
	"strconv"
	"strings"

	goToken "github.com/MrEthical07/goToken"
)

type CounterDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events the audit dispatcher discarded.
const AuditDroppedName = "gotoken_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: goToken.MetricTokenIssued, Name: "gotoken_token_issued_total", Help: "Tokens signed."},
	{ID: goToken.MetricTokenPairIssued, Name: "gotoken_token_pair_issued_total", Help: "Access and refresh pairs issued."},
	{ID: goToken.MetricDecodeSuccess, Name: "gotoken_decode_success_total", Help: "Tokens that passed verification."},
	{ID: goToken.MetricDecodeRejected, Name: "gotoken_decode_rejected_total", Help: "Tokens rejected for any reason."},
	{ID: goToken.MetricRejectMalformed, Name: "gotoken_reject_malformed_total", Help: "Rejections: malformed token or missing bearer."},
	{ID: goToken.MetricRejectSignature, Name: "gotoken_reject_signature_total", Help: "Rejections: bad signature or algorithm."},
	{ID: goToken.MetricRejectUnknownKey, Name: "gotoken_reject_unknown_key_total", Help: "Rejections: kid not active or retained."},
	{ID: goToken.MetricRejectExpired, Name: "gotoken_reject_expired_total", Help: "Rejections: expired."},
	{ID: goToken.MetricRejectIssuedAt, Name: "gotoken_reject_issued_at_total", Help: "Rejections: issued in the future."},
	{ID: goToken.MetricRejectIssuer, Name: "gotoken_reject_issuer_total", Help: "Rejections: issuer mismatch."},
	{ID: goToken.MetricRejectAudience, Name: "gotoken_reject_audience_total", Help: "Rejections: audience mismatch."},
	{ID: goToken.MetricRejectMissingClaims, Name: "gotoken_reject_missing_claims_total", Help: "Rejections: required claims absent."},
	{ID: goToken.MetricRejectRevoked, Name: "gotoken_reject_revoked_total", Help: "Rejections: revoked jti."},
	{ID: goToken.MetricRejectRevocationUnavailable, Name: "gotoken_reject_revocation_unavailable_total", Help: "Rejections: revocation backend unreachable."},
	{ID: goToken.MetricRejectKindMismatch, Name: "gotoken_reject_kind_mismatch_total", Help: "Rejections: token of another kind."},
	{ID: goToken.MetricRejectDeviceMismatch, Name: "gotoken_reject_device_mismatch_total", Help: "Rejections: device fingerprint mismatch."},
	{ID: goToken.MetricRejectDecrypt, Name: "gotoken_reject_decrypt_total", Help: "Rejections: encrypted subject could not be decrypted."},
	{ID: goToken.MetricTokenRevoked, Name: "gotoken_token_revoked_total", Help: "Revocations recorded."},
	{ID: goToken.MetricRevocationFailure, Name: "gotoken_revocation_failure_total", Help: "Revocations the backend could not record."},
	{ID: goToken.MetricRefreshSuccess, Name: "gotoken_refresh_success_total", Help: "Successful refresh exchanges."},
	{ID: goToken.MetricRefreshFailure, Name: "gotoken_refresh_failure_total", Help: "Failed refresh exchanges."},
	{ID: goToken.MetricSecretRotation, Name: "gotoken_secret_rotation_total", Help: "Signing secret rotations."},
	{ID: goToken.MetricSecretRotationFailure, Name: "gotoken_secret_rotation_failure_total", Help: "Failed signing secret rotations."},
	{ID: goToken.MetricSigningKeyRotation, Name: "gotoken_signing_key_rotation_total", Help: "Asymmetric signing key rotations."},
	{ID: goToken.MetricEncryptionKeyRotation, Name: "gotoken_encryption_key_rotation_total", Help: "Payload encryption key rotations."},
	{ID: goToken.MetricDeviceFallback, Name: "gotoken_device_fallback_total", Help: "Requests fingerprinted with the fallback value."},
	{ID: goToken.MetricSecurityAudit, Name: "gotoken_security_audit_total", Help: "Security audits run."},
}

var HistogramDefs = []HistogramDef{
	{ID: goToken.MetricDecodeLatency, Name: "gotoken_decode_latency_seconds", Help: "Token decode latency."},
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(goToken.HistogramUpperBounds))
	for i, d := range goToken.HistogramUpperBounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundSuffixes names every bucket, the last one "inf", for exporters that
// flatten buckets into separate instruments.
func BoundSuffixes() []string {
	out := make([]string, 0, goToken.HistogramBuckets)
	for _, b := range UpperBounds() {
		s := strconv.FormatFloat(b, 'f', -1, 64)
		out = append(out, strings.ReplaceAll(s, ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [goToken.HistogramBuckets]uint64 {
	var out [goToken.HistogramBuckets]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [goToken.HistogramBuckets]uint64) [goToken.HistogramBuckets]uint64 {
	var out [goToken.HistogramBuckets]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
