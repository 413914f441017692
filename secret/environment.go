package secret

import (
	"fmt"
	"strings"
)

// Environment identifies the deployment tier a secret is resolved for.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ParseEnvironment maps a configuration string onto an Environment. Common short
// forms ("dev", "test", "prod") are accepted.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "development", "dev":
		return Development, nil
	case "testing", "test":
		return Testing, nil
	case "staging", "stage":
		return Staging, nil
	case "production", "prod":
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q", raw)
	}
}

// Valid reports whether e is one of the four known tiers.
func (e Environment) Valid() bool {
	switch e {
	case Development, Testing, Staging, Production:
		return true
	}
	return false
}

// Production reports whether e belongs to the production tier. Only the
// production environment does; staging is treated as non-production.
func (e Environment) Production() bool {
	return e == Production
}

func (e Environment) String() string {
	return string(e)
}
