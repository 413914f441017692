package goToken

import (
	"io"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goToken/internal/audit"
)

// AuditEvent is one token lifecycle record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZapSink = internalaudit.ZapSink

// Audit event types.
const (
	AuditTokenIssued        = internalaudit.EventTokenIssued
	AuditTokenRejected      = internalaudit.EventTokenRejected
	AuditTokenRevoked       = internalaudit.EventTokenRevoked
	AuditTokenRefreshed     = internalaudit.EventTokenRefreshed
	AuditSecretRotated      = internalaudit.EventSecretRotated
	AuditSigningKeyRotated  = internalaudit.EventSigningKeyRotated
	AuditEncryptionRotated  = internalaudit.EventEncryptionRotated
	AuditSecurityAuditRun   = internalaudit.EventSecurityAuditRun
	AuditRevocationDegraded = internalaudit.EventRevocationDegraded
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
