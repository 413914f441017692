package goToken

import "github.com/MrEthical07/goToken/internal/security"

// AuditResult is the scored outcome of [Engine.SecurityAudit].
type AuditResult = security.Result

// AuditCheck is one weighted check inside an AuditResult.
type AuditCheck = security.Check

// Security audit check names.
const (
	CheckAlgorithm   = security.CheckAlgorithm
	CheckSecret      = security.CheckSecret
	CheckEncryption  = security.CheckEncryption
	CheckLifetimes   = security.CheckLifetimes
	CheckRevocation  = security.CheckRevocation
	CheckEnvironment = security.CheckEnvironment
)

type securityInput = security.Input

func runSecurityAudit(in securityInput) AuditResult {
	return security.Audit(in)
}
