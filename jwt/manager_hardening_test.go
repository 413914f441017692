package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T, method SigningMethod, clock *fakeClock) (*Manager, *KeyManager) {
	t.Helper()
	km, err := NewKeyManager(KeyConfig{Method: method, Secret: hmacSecret, RotationGrace: time.Hour, Now: clock.Now})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	m, err := NewManager(Config{Keys: km, Issuer: "gotoken", Audience: "api", Leeway: 30 * time.Second, Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, km
}

func registered(clock *fakeClock, iss, aud string, iat, exp time.Duration) gjwt.RegisteredClaims {
	now := clock.Now()
	return gjwt.RegisteredClaims{
		Issuer:    iss,
		Audience:  gjwt.ClaimStrings{aud},
		IssuedAt:  gjwt.NewNumericDate(now.Add(iat)),
		ExpiresAt: gjwt.NewNumericDate(now.Add(exp)),
	}
}

func TestNewManagerValidation(t *testing.T) {
	km, _ := NewKeyManager(KeyConfig{Method: MethodHS256, Secret: hmacSecret})
	cases := []Config{
		{Issuer: "gotoken", Audience: "api"},
		{Keys: km, Audience: "api"},
		{Keys: km, Issuer: "gotoken"},
		{Keys: km, Issuer: "gotoken", Audience: "api", Leeway: 3 * time.Minute},
		{Keys: km, Issuer: "gotoken", Audience: "api", Leeway: -time.Second},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestSignParseAllMethods(t *testing.T) {
	for _, method := range []SigningMethod{MethodHS256, MethodRS256, MethodES256, MethodEd25519} {
		t.Run(string(method), func(t *testing.T) {
			clock := newFakeClock()
			m, km := newTestManager(t, method, clock)
			tok, err := m.Sign(registered(clock, "gotoken", "api", 0, time.Minute))
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			parsed, _, err := gjwt.NewParser().ParseUnverified(tok, &gjwt.RegisteredClaims{})
			if err != nil {
				t.Fatalf("parse unverified: %v", err)
			}
			if parsed.Header["kid"] != km.ActiveKeyID() || parsed.Header["alg"] != method.Alg() {
				t.Fatalf("unexpected header %v", parsed.Header)
			}
			if err := m.Parse(tok, &gjwt.RegisteredClaims{}); err != nil {
				t.Fatalf("parse: %v", err)
			}
		})
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	clock := newFakeClock()
	m, km := newTestManager(t, MethodEd25519, clock)

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, registered(clock, "gotoken", "api", 0, time.Minute))
	tok.Header["kid"] = km.ActiveKeyID()
	signed, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if err := m.Parse(signed, &gjwt.RegisteredClaims{}); !errors.Is(err, gjwt.ErrTokenSignatureInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}

	none := gjwt.NewWithClaims(gjwt.SigningMethodNone, registered(clock, "gotoken", "api", 0, time.Minute))
	unsigned, _ := none.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err := m.Parse(unsigned, &gjwt.RegisteredClaims{}); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(t, MethodHS256, clock)

	cases := []struct {
		name   string
		claims gjwt.RegisteredClaims
		want   error
	}{
		{"wrong issuer", registered(clock, "other", "api", 0, time.Minute), gjwt.ErrTokenInvalidIssuer},
		{"wrong audience", registered(clock, "gotoken", "other-api", 0, time.Minute), gjwt.ErrTokenInvalidAudience},
		{"expired", registered(clock, "gotoken", "api", -3*time.Minute, -2*time.Minute), gjwt.ErrTokenExpired},
		{"future iat", registered(clock, "gotoken", "api", 5*time.Minute, 10*time.Minute), gjwt.ErrTokenUsedBeforeIssued},
		{"missing exp", gjwt.RegisteredClaims{Issuer: "gotoken", Audience: gjwt.ClaimStrings{"api"}}, gjwt.ErrTokenRequiredClaimMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, err := m.Sign(tc.claims)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if err := m.Parse(tok, &gjwt.RegisteredClaims{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	within, _ := m.Sign(registered(clock, "gotoken", "api", -time.Minute, -15*time.Second))
	if err := m.Parse(within, &gjwt.RegisteredClaims{}); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	clock := newFakeClock()
	m, km := newTestManager(t, MethodEd25519, clock)
	_, foreign, _ := ed25519.GenerateKey(rand.Reader)

	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, registered(clock, "gotoken", "api", 0, time.Minute))
	tok.Header["kid"] = "k2"
	signed, _ := tok.SignedString(foreign)
	if err := m.Parse(signed, &gjwt.RegisteredClaims{}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}

	forged := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, registered(clock, "gotoken", "api", 0, time.Minute))
	forged.Header["kid"] = km.ActiveKeyID()
	forgedSigned, _ := forged.SignedString(foreign)
	if err := m.Parse(forgedSigned, &gjwt.RegisteredClaims{}); !errors.Is(err, gjwt.ErrTokenSignatureInvalid) {
		t.Fatalf("expected signature failure for foreign key under known kid, got %v", err)
	}

	noKid := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, registered(clock, "gotoken", "api", 0, time.Minute))
	noKidSigned, _ := noKid.SignedString(foreign)
	if err := m.Parse(noKidSigned, &gjwt.RegisteredClaims{}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected missing kid to fail, got %v", err)
	}
}

func TestParseAcrossRotationGrace(t *testing.T) {
	clock := newFakeClock()
	m, km := newTestManager(t, MethodES256, clock)

	before, err := m.Sign(registered(clock, "gotoken", "api", 0, 3*time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := km.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := m.Parse(before, &gjwt.RegisteredClaims{}); err != nil {
		t.Fatalf("expected token signed before rotation to verify inside grace: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if err := m.Parse(before, &gjwt.RegisteredClaims{}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey after grace, got %v", err)
	}
}
