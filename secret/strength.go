package secret

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"
)

// Policy is the strength bar a secret has to clear.
type Policy struct {
	MinLength  int
	MinEntropy float64 // Shannon entropy, bits per character
	MinClasses int     // of lower, upper, digit, symbol
}

var denyList = map[string]struct{}{
	"secret":              {},
	"password":            {},
	"changeme":            {},
	"change-me":           {},
	"default":             {},
	"admin":               {},
	"letmein":             {},
	"qwerty":              {},
	"12345678":            {},
	"123456789012":        {},
	"mysecret":            {},
	"supersecret":         {},
	"secret-key":          {},
	"secretkey":           {},
	"jwt-secret":          {},
	"jwtsecret":           {},
	"your-secret-key":     {},
	"your-256-bit-secret": {},
	"your_jwt_secret":     {},
	"replace-me":          {},
}

// Substrings that mark placeholder values regardless of the surrounding text.
var placeholderMarkers = []string{"changeme", "change-me", "placeholder", "your-secret", "your_secret", "replace-me"}

// Words rejected in production because they suggest a value copied from a
// lower tier. They only match as whole delimiter-separated segments
// ("api-dev-key", "test_secret", "staging2"): as bare substrings about one in
// a thousand random base64url secrets would contain one.
var environmentIndicators = []string{"dev", "test", "staging", "local", "demo", "sample", "example"}

// PolicyFor returns the strength policy for kind in env.
func PolicyFor(kind Kind, env Environment) Policy {
	p := Policy{MinLength: 32, MinEntropy: 3.5, MinClasses: 2}
	switch kind {
	case KindAPIKey:
		p.MinLength = 24
	case KindDatabasePassword:
		p.MinLength = 16
	}
	if env.Production() {
		p.MinEntropy = 4.0
		p.MinClasses = 3
		switch kind {
		case KindAPIKey:
			p.MinLength = 32
		case KindDatabasePassword:
			p.MinLength = 20
		default:
			p.MinLength = 43
		}
	}
	return p
}

// CheckStrength runs every strength check and returns all failures combined, or
// nil when value passes.
func CheckStrength(value string, kind Kind, env Environment) error {
	if value == "" {
		return errors.New("secret is empty")
	}

	policy := PolicyFor(kind, env)
	var result *multierror.Error

	if n := len(value); n < policy.MinLength {
		result = multierror.Append(result, fmt.Errorf("length %d below minimum %d", n, policy.MinLength))
	}
	if h := ShannonEntropy(value); h < policy.MinEntropy {
		result = multierror.Append(result, fmt.Errorf("entropy %.2f bits/char below minimum %.2f", h, policy.MinEntropy))
	}
	if c := characterClasses(value); c < policy.MinClasses {
		result = multierror.Append(result, fmt.Errorf("uses %d character classes, need %d", c, policy.MinClasses))
	}

	lower := strings.ToLower(value)
	if _, denied := denyList[lower]; denied {
		result = multierror.Append(result, errors.New("matches a known default or common value"))
	} else {
		for _, marker := range placeholderMarkers {
			if strings.Contains(lower, marker) {
				result = multierror.Append(result, fmt.Errorf("contains placeholder marker %q", marker))
				break
			}
		}
	}

	if env.Production() {
		for _, indicator := range environmentIndicators {
			if hasSegment(lower, indicator) {
				result = multierror.Append(result, fmt.Errorf("contains environment indicator %q", indicator))
			}
		}
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinReasons
	return result.ErrorOrNil()
}

// hasSegment reports whether word appears in lower as a segment between
// non-alphanumeric delimiters, optionally followed by digits.
func hasSegment(lower, word string) bool {
	segments := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, seg := range segments {
		rest, ok := strings.CutPrefix(seg, word)
		if ok && strings.TrimLeftFunc(rest, unicode.IsDigit) == "" {
			return true
		}
	}
	return false
}

// ValidateStrength is the boolean form of [CheckStrength]: ok is false and
// reason lists every failed check when value does not meet the policy.
func ValidateStrength(value string, kind Kind, env Environment) (ok bool, reason string) {
	if err := CheckStrength(value, kind, env); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ShannonEntropy returns the per-character Shannon entropy of s in bits.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int, len(s))
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func characterClasses(s string) int {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	n := 0
	for _, b := range []bool{lower, upper, digit, symbol} {
		if b {
			n++
		}
	}
	return n
}

func joinReasons(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
