package security

import (
	"fmt"
	"strings"
	"time"
)

// Check names and their weights. Weights sum to 100.
const (
	CheckAlgorithm   = "algorithm_security"
	CheckSecret      = "secret_strength"
	CheckEncryption  = "encryption_liveness"
	CheckLifetimes   = "token_lifetimes"
	CheckRevocation  = "revocation_backend"
	CheckEnvironment = "environment_compliance"
)

var weights = map[string]int{
	CheckAlgorithm:   25,
	CheckSecret:      25,
	CheckEncryption:  20,
	CheckLifetimes:   10,
	CheckRevocation:  10,
	CheckEnvironment: 10,
}

// Lifetime ceilings above which token_lifetimes fails.
const (
	MaxAccessTTL       = time.Hour
	MaxRefreshTTL      = 30 * 24 * time.Hour
	MaxResetTTL        = time.Hour
	MaxVerificationTTL = 24 * time.Hour
	MaxLeeway          = time.Minute
)

// Revocation backends as reported by the engine.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	// BackendCustom is a caller-supplied Store. It is trusted to be shared.
	BackendCustom = "custom"
)

// Input is the configuration snapshot an audit runs over.
type Input struct {
	Environment string
	Production  bool

	Algorithm  string
	Asymmetric bool

	SecretSource string
	SecretStrong bool
	SecretReason string
	RotationDue  bool

	EncryptionEnabled bool
	EncryptionProbe   error
	ExplicitSalt      bool

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	Leeway          time.Duration

	RevocationBackend string

	ComplianceRequired bool
	ComplianceTagged   bool

	Now time.Time
}

type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Weight  int    `json:"weight"`
	Message string `json:"message"`
}

// Result is the scored outcome. Score is the sum of the weights of passing
// checks.
type Result struct {
	Score           int       `json:"score"`
	Checks          []Check   `json:"checks"`
	Recommendations []string  `json:"recommendations,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Failed returns the names of failing checks in evaluation order.
func (r Result) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Check returns the named check.
func (r Result) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

type evaluator func(Input) (passed bool, message, recommendation string)

var checks = []struct {
	name string
	eval evaluator
}{
	{CheckAlgorithm, algorithm},
	{CheckSecret, secretStrength},
	{CheckEncryption, encryption},
	{CheckLifetimes, lifetimes},
	{CheckRevocation, revocationBackend},
	{CheckEnvironment, environment},
}

// Audit runs every check against in.
func Audit(in Input) Result {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	res := Result{GeneratedAt: in.Now.UTC(), Checks: make([]Check, 0, len(checks))}
	for _, c := range checks {
		passed, msg, rec := c.eval(in)
		w := weights[c.name]
		res.Checks = append(res.Checks, Check{Name: c.name, Passed: passed, Weight: w, Message: msg})
		if passed {
			res.Score += w
		} else if rec != "" {
			res.Recommendations = append(res.Recommendations, rec)
		}
	}
	return res
}

func algorithm(in Input) (bool, string, string) {
	switch {
	case in.Algorithm == "":
		return false, "no signing algorithm configured", "configure one of RS256, ES256 or EdDSA"
	case in.Asymmetric:
		return true, in.Algorithm + " is asymmetric", ""
	case in.Production:
		return false, in.Algorithm + " shares one secret between signer and verifiers",
			"switch production signing to RS256, ES256 or EdDSA"
	default:
		return true, in.Algorithm + " acceptable outside production", ""
	}
}

func secretStrength(in Input) (bool, string, string) {
	if in.Asymmetric && in.SecretSource == "" {
		return true, "signing uses a private key", ""
	}
	if !in.SecretStrong {
		msg := "signing secret is weak"
		if in.SecretReason != "" {
			msg += ": " + in.SecretReason
		}
		return false, msg, "rotate to a high-entropy secret of at least 43 characters"
	}
	if in.RotationDue {
		return false, "signing secret rotation is overdue", "rotate the signing secret"
	}
	return true, "signing secret passes strength policy", ""
}

func encryption(in Input) (bool, string, string) {
	if !in.EncryptionEnabled {
		if in.Production {
			return false, "subject encryption disabled", "enable subject encryption for production tokens"
		}
		return true, "subject encryption disabled outside production", ""
	}
	if in.EncryptionProbe != nil {
		return false, fmt.Sprintf("encryption probe failed: %v", in.EncryptionProbe),
			"check the encryption master secret and rotate the payload key"
	}
	return true, "encrypt/decrypt probe succeeded", ""
}

func lifetimes(in Input) (bool, string, string) {
	var problems []string
	if in.AccessTTL <= 0 || in.AccessTTL > MaxAccessTTL {
		problems = append(problems, fmt.Sprintf("access ttl %s outside (0, %s]", in.AccessTTL, MaxAccessTTL))
	}
	if in.RefreshTTL <= 0 || in.RefreshTTL > MaxRefreshTTL {
		problems = append(problems, fmt.Sprintf("refresh ttl %s outside (0, %s]", in.RefreshTTL, MaxRefreshTTL))
	}
	if in.AccessTTL >= in.RefreshTTL {
		problems = append(problems, "access ttl must be shorter than refresh ttl")
	}
	if in.ResetTTL > MaxResetTTL {
		problems = append(problems, fmt.Sprintf("reset ttl %s exceeds %s", in.ResetTTL, MaxResetTTL))
	}
	if in.VerificationTTL > MaxVerificationTTL {
		problems = append(problems, fmt.Sprintf("verification ttl %s exceeds %s", in.VerificationTTL, MaxVerificationTTL))
	}
	if in.Leeway > MaxLeeway {
		problems = append(problems, fmt.Sprintf("leeway %s exceeds %s", in.Leeway, MaxLeeway))
	}
	if len(problems) > 0 {
		return false, strings.Join(problems, "; "), "shorten token lifetimes and clock leeway"
	}
	return true, "token lifetimes within bounds", ""
}

func revocationBackend(in Input) (bool, string, string) {
	switch in.RevocationBackend {
	case BackendRedis, BackendPostgres:
		return true, "shared revocation store: " + in.RevocationBackend, ""
	case BackendMemory:
		if in.Production {
			return false, "in-memory revocation is not shared between replicas",
				"use the redis or postgres revocation backend in production"
		}
		return true, "in-memory revocation acceptable outside production", ""
	case BackendCustom:
		return true, "caller-supplied revocation store, assumed shared", ""
	case BackendNone, "":
		return false, "revocation disabled", "configure a revocation backend"
	default:
		return false, fmt.Sprintf("unknown revocation backend %q", in.RevocationBackend),
			"use the memory, redis or postgres backend or inject a store"
	}
}

func environment(in Input) (bool, string, string) {
	if !in.Production {
		return true, in.Environment + " tier", ""
	}
	var problems []string
	switch in.SecretSource {
	case "generated", "deterministic":
		problems = append(problems, "signing secret was not provisioned")
	}
	if in.EncryptionEnabled && !in.ExplicitSalt {
		problems = append(problems, "encryption salt is derived, not provisioned")
	}
	if in.ComplianceRequired && !in.ComplianceTagged {
		problems = append(problems, "compliance tagging required but not configured")
	}
	if len(problems) > 0 {
		return false, strings.Join(problems, "; "), "provision secrets, salt and compliance tags explicitly in production"
	}
	return true, "production configuration provisioned explicitly", ""
}
