package token

import (
	"bytes"
	"encoding/json"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// Wire names of the claims the codec owns. Callers may not set any of them
// except sub.
const (
	claimSubject    = "sub"
	claimSubjectEnc = "sub_enc"
	claimEncrypted  = "encrypted"
	claimExpiresAt  = "exp"
	claimIssuedAt   = "iat"
	claimNotBefore  = "nbf"
	claimID         = "jti"
	claimKind       = "typ"
	claimIssuer     = "iss"
	claimAudience   = "aud"
	claimDeviceFP   = "device_fp"
	claimCompliance = "compliance"
)

var reservedClaims = map[string]struct{}{
	claimSubjectEnc: {},
	claimEncrypted:  {},
	claimExpiresAt:  {},
	claimIssuedAt:   {},
	claimNotBefore:  {},
	claimID:         {},
	claimKind:       {},
	claimIssuer:     {},
	claimAudience:   {},
	claimDeviceFP:   {},
	claimCompliance: {},
}

// IsReserved reports whether name is owned by the codec.
func IsReserved(name string) bool {
	_, ok := reservedClaims[name]
	return ok
}

// EncryptedSubject replaces sub when the subject was encrypted at issuance.
type EncryptedSubject struct {
	Ciphertext string
}

// ComplianceTag is attached to every token in regulated deployments.
type ComplianceTag struct {
	Frameworks         []string `json:"frameworks,omitempty"`
	DataClassification string   `json:"data_classification,omitempty"`
	PolicyVersion      string   `json:"policy_version,omitempty"`
	Environment        string   `json:"environment,omitempty"`
}

// Claims is the decoded payload. Exactly one of Subject or Encrypted is set
// on the wire; Decode always returns the plaintext Subject with Encrypted nil.
type Claims struct {
	Subject           string
	Encrypted         *EncryptedSubject
	Kind              Kind
	ID                string
	Issuer            string
	Audience          []string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	DeviceFingerprint string
	Compliance        *ComplianceTag

	// Extra holds caller claims. Integral numbers come back as int64, other
	// numbers as float64, at any depth.
	Extra map[string]any

	subjectEncrypted bool
}

// SubjectEncrypted reports whether the subject travelled encrypted. Callers
// that re-issue from decoded claims use it to keep the subject encrypted.
func (c *Claims) SubjectEncrypted() bool { return c.subjectEncrypted }

// Get returns a caller claim, or the subject for "sub".
func (c *Claims) Get(name string) (any, bool) {
	if name == claimSubject && c.Subject != "" {
		return c.Subject, true
	}
	v, ok := c.Extra[name]
	return v, ok
}

// Map flattens the claims into the caller's view: Extra plus sub.
func (c *Claims) Map() map[string]any {
	out := make(map[string]any, len(c.Extra)+1)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Subject != "" {
		out[claimSubject] = c.Subject
	}
	return out
}

func (c *Claims) hasRequired() bool {
	if c.ID == "" || c.Kind == "" || c.Issuer == "" || len(c.Audience) == 0 {
		return false
	}
	if c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return false
	}
	if c.Encrypted != nil {
		return c.Subject == "" && c.Encrypted.Ciphertext != ""
	}
	return c.Subject != ""
}

type wireClaims struct {
	Subject    string            `json:"sub,omitempty"`
	SubjectEnc string            `json:"sub_enc,omitempty"`
	Encrypted  bool              `json:"encrypted,omitempty"`
	ExpiresAt  *gjwt.NumericDate `json:"exp,omitempty"`
	IssuedAt   *gjwt.NumericDate `json:"iat,omitempty"`
	ID         string            `json:"jti,omitempty"`
	Kind       Kind              `json:"typ,omitempty"`
	Issuer     string            `json:"iss,omitempty"`
	Audience   gjwt.ClaimStrings `json:"aud,omitempty"`
	DeviceFP   string            `json:"device_fp,omitempty"`
	Compliance *ComplianceTag    `json:"compliance,omitempty"`
}

func numericDate(t time.Time) *gjwt.NumericDate {
	if t.IsZero() {
		return nil
	}
	return gjwt.NewNumericDate(t)
}

func (c Claims) MarshalJSON() ([]byte, error) {
	w := wireClaims{
		ExpiresAt:  numericDate(c.ExpiresAt),
		IssuedAt:   numericDate(c.IssuedAt),
		ID:         c.ID,
		Kind:       c.Kind,
		Issuer:     c.Issuer,
		Audience:   c.Audience,
		DeviceFP:   c.DeviceFingerprint,
		Compliance: c.Compliance,
	}
	if c.Encrypted != nil {
		w.SubjectEnc = c.Encrypted.Ciphertext
		w.Encrypted = true
	} else {
		w.Subject = c.Subject
	}

	reserved, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return reserved, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+10)
	for k, v := range c.Extra {
		if k == claimSubject || IsReserved(k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	var fixed map[string]json.RawMessage
	if err := json.Unmarshal(reserved, &fixed); err != nil {
		return nil, err
	}
	for k, v := range fixed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	var w wireClaims
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var all map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&all); err != nil {
		return err
	}

	*c = Claims{
		Subject:           w.Subject,
		Kind:              w.Kind,
		ID:                w.ID,
		Issuer:            w.Issuer,
		Audience:          []string(w.Audience),
		DeviceFingerprint: w.DeviceFP,
		Compliance:        w.Compliance,
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time
	}
	if w.Encrypted || w.SubjectEnc != "" {
		c.Encrypted = &EncryptedSubject{Ciphertext: w.SubjectEnc}
	}

	for k, v := range all {
		if k == claimSubject || IsReserved(k) {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(all))
		}
		c.Extra[k] = plainNumbers(v)
	}
	return nil
}

// plainNumbers replaces json.Number values with int64 when integral and
// float64 otherwise.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = plainNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = plainNumbers(e)
		}
		return t
	}
	return v
}

func (c *Claims) GetExpirationTime() (*gjwt.NumericDate, error) { return numericDate(c.ExpiresAt), nil }
func (c *Claims) GetIssuedAt() (*gjwt.NumericDate, error) { return numericDate(c.IssuedAt), nil }
func (c *Claims) GetNotBefore() (*gjwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error) { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error) { return c.Subject, nil }
func (c *Claims) GetAudience() (gjwt.ClaimStrings, error) { return gjwt.ClaimStrings(c.Audience), nil }

var _ gjwt.Claims = (*Claims)(nil)
