package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/payload"
	"github.com/MrEthical07/goToken/revocation"
)

const (
	testSecret = "Zq8Xr2Lw9Nc4Tb7Kp1Vh6Gm3Jy5Fs0Qa-Wu_Ei8Ox2Rk"
	fpAlice    = "abc0123456789abcdef0123456789abcdef0123456789abcdef0123456789abc"
	fpOther    = "def0123456789abcdef0123456789abcdef0123456789abcdef0123456789def"
)

type recordingObserver struct {
	mu      sync.Mutex
	issued  []Kind
	reasons []RejectReason
	ok      int
}

func (r *recordingObserver) TokenIssued(kind Kind, _ *Claims) {
	r.mu.Lock()
	r.issued = append(r.issued, kind)
	r.mu.Unlock()
}

func (r *recordingObserver) TokenDecoded(_ context.Context, _ Kind, _ *Claims, reason RejectReason, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		r.ok++
		return
	}
	r.reasons = append(r.reasons, reason)
}

func (r *recordingObserver) last() RejectReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return ""
	}
	return r.reasons[len(r.reasons)-1]
}

type failingStore struct{}

func (failingStore) Revoke(context.Context, string, time.Time) error {
	return revocation.ErrUnavailable
}

func (failingStore) RevokeOnce(context.Context, string, time.Time) (bool, error) {
	return false, revocation.ErrUnavailable
}

func (failingStore) IsRevoked(context.Context, string) (bool, error) {
	return false, revocation.ErrUnavailable
}

type fixture struct {
	codec    *Codec
	keys     *jwt.KeyManager
	signer   *jwt.Manager
	cipher   *payload.Cipher
	store    *revocation.MemoryStore
	observer *recordingObserver
}

func newFixture(tb testing.TB, mutate func(*Config)) *fixture {
	tb.Helper()
	keys, err := jwt.NewKeyManager(jwt.KeyConfig{Method: jwt.MethodHS256, Secret: []byte(testSecret)})
	if err != nil {
		tb.Fatalf("key manager: %v", err)
	}
	signer, err := jwt.NewManager(jwt.Config{Keys: keys, Issuer: "gotoken", Audience: "api", Leeway: 30 * time.Second})
	if err != nil {
		tb.Fatalf("jwt manager: %v", err)
	}
	params := payload.DefaultParams()
	params.Iterations = payload.MinPBKDF2Iterations
	cipher, err := payload.NewCipher(payload.Config{
		Secret: []byte(testSecret),
		Salt:   payload.DeriveSalt([]byte(testSecret), "testing"),
		Params: params,
	})
	if err != nil {
		tb.Fatalf("cipher: %v", err)
	}

	f := &fixture{
		keys:     keys,
		signer:   signer,
		cipher:   cipher,
		store:    revocation.NewMemoryStore(revocation.MemoryConfig{}),
		observer: &recordingObserver{},
	}
	cfg := Config{Signer: signer, Cipher: cipher, Revocations: f.store, Observer: f.observer}
	if mutate != nil {
		mutate(&cfg)
	}
	f.codec, err = NewCodec(cfg)
	if err != nil {
		tb.Fatalf("codec: %v", err)
	}
	return f
}

func payloadOf(t *testing.T, tok string) map[string]any {
	t.Helper()
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three segments, got %d", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func TestEncryptedSubjectWithDeviceBinding(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tok, err := f.codec.Create(map[string]any{"sub": "alice@example.com"}, KindAccess,
		WithEncryptedSubject(), WithDeviceFingerprint(fpAlice))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wire := payloadOf(t, tok)
	if _, ok := wire["sub"]; ok {
		t.Fatal("expected plaintext sub to be absent on the wire")
	}
	if wire["encrypted"] != true || wire["sub_enc"] == "" {
		t.Fatalf("expected encryption markers on the wire, got %v", wire)
	}
	if strings.Contains(tok, base64.RawURLEncoding.EncodeToString([]byte("alice@example.com"))) {
		t.Fatal("subject leaked into token")
	}

	claims, err := f.codec.Decode(ctx, tok, KindAccess, WithExpectedDevice(fpAlice))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Subject != "alice@example.com" {
		t.Fatalf("expected decrypted subject, got %q", claims.Subject)
	}
	if claims.Encrypted != nil {
		t.Fatal("expected encryption markers to be stripped")
	}
	if !claims.SubjectEncrypted() {
		t.Fatal("expected decoded claims to remember the subject was encrypted")
	}
	m := claims.Map()
	if _, ok := m["sub_enc"]; ok {
		t.Fatal("expected no sub_enc in claim map")
	}
	if _, ok := m["encrypted"]; ok {
		t.Fatal("expected no encrypted flag in claim map")
	}

	if _, err := f.codec.Decode(ctx, tok, KindAccess, WithExpectedDevice(fpOther)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for other device, got %v", err)
	}
	if f.observer.last() != ReasonDeviceMismatch {
		t.Fatalf("expected device_mismatch reason, got %q", f.observer.last())
	}
}

func TestClaimFidelity(t *testing.T) {
	f := newFixture(t, nil)
	in := map[string]any{
		"sub":    "user-42",
		"role":   "admin",
		"scopes": []any{"read", "write"},
		"org":    map[string]any{"id": "o-1", "tier": "gold"},
		"mfa":    true,
		"level":  float64(3),
	}
	tok, err := f.codec.Create(in, KindAccess)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claims, err := f.codec.Decode(context.Background(), tok, KindAccess)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := claims.Map()
	for k, v := range in {
		got, ok := out[k]
		if !ok {
			t.Fatalf("claim %q missing after round trip", k)
		}
		a, _ := json.Marshal(v)
		b, _ := json.Marshal(got)
		if string(a) != string(b) {
			t.Fatalf("claim %q: expected %s, got %s", k, a, b)
		}
	}
	if claims.ID == "" || claims.Issuer != "gotoken" || claims.Audience[0] != "api" || claims.Kind != KindAccess {
		t.Fatalf("unexpected registered claims: %+v", claims)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		t.Fatal("expected exp after iat")
	}
}

func TestNumericClaimsKeepTheirType(t *testing.T) {
	f := newFixture(t, nil)
	tok, err := f.codec.Create(map[string]any{
		"sub":    "user-42",
		"n":      1,
		"big":    int64(1<<53 + 1),
		"ratio":  1.5,
		"nested": map[string]any{"count": 7, "ids": []any{2, 3.25}},
	}, KindAccess)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claims, err := f.codec.Decode(context.Background(), tok, KindAccess)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := claims.Extra["n"]; got != int64(1) {
		t.Fatalf("expected int64(1), got %T(%v)", got, got)
	}
	if got := claims.Extra["big"]; got != int64(1<<53+1) {
		t.Fatalf("expected %d without precision loss, got %T(%v)", int64(1<<53+1), got, got)
	}
	if got := claims.Extra["ratio"]; got != 1.5 {
		t.Fatalf("expected float64(1.5), got %T(%v)", got, got)
	}
	nested, ok := claims.Extra["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested object, got %T", claims.Extra["nested"])
	}
	if nested["count"] != int64(7) {
		t.Fatalf("expected nested int64(7), got %T(%v)", nested["count"], nested["count"])
	}
	ids, _ := nested["ids"].([]any)
	if len(ids) != 2 || ids[0] != int64(2) || ids[1] != 3.25 {
		t.Fatalf("expected [2 3.25] with int64 first, got %#v", ids)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name   string
		claims map[string]any
		kind   Kind
		opts   []CreateOption
		want   error
	}{
		{"missing sub", map[string]any{"role": "x"}, KindAccess, nil, ErrMissingSubject},
		{"non-string sub", map[string]any{"sub": 42}, KindAccess, nil, ErrMissingSubject},
		{"reserved jti", map[string]any{"sub": "u", "jti": "mine"}, KindAccess, nil, ErrReservedClaim},
		{"reserved sub_enc", map[string]any{"sub": "u", "sub_enc": "x"}, KindAccess, nil, ErrReservedClaim},
		{"reserved compliance", map[string]any{"sub": "u", "compliance": "x"}, KindAccess, nil, ErrReservedClaim},
		{"unknown kind", map[string]any{"sub": "u"}, Kind("session"), nil, ErrUnknownKind},
		{"short fingerprint", map[string]any{"sub": "u"}, KindAccess, []CreateOption{WithDeviceFingerprint("abc")}, ErrInvalidFingerprint},
		{"upper fingerprint", map[string]any{"sub": "u"}, KindAccess, []CreateOption{WithDeviceFingerprint(strings.ToUpper(fpAlice))}, ErrInvalidFingerprint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.codec.Create(tc.claims, tc.kind, tc.opts...); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	noCipher := newFixture(t, func(c *Config) { c.Cipher = nil })
	if _, err := noCipher.codec.Create(map[string]any{"sub": "u"}, KindAccess, WithEncryptedSubject()); !errors.Is(err, ErrEncryptionUnavailable) {
		t.Fatalf("expected ErrEncryptionUnavailable, got %v", err)
	}
}

func TestExpiredTokensAlwaysFail(t *testing.T) {
	f := newFixture(t, nil)
	for _, ttl := range []time.Duration{0, -time.Second, -time.Hour} {
		issued, err := f.codec.Issue(map[string]any{"sub": "u"}, KindAccess, WithTTL(ttl))
		if err != nil {
			t.Fatalf("ttl %v: create: %v", ttl, err)
		}
		if !issued.Claims.ExpiresAt.After(issued.Claims.IssuedAt) {
			t.Fatalf("ttl %v: expected exp after iat", ttl)
		}
		if _, err := f.codec.Decode(context.Background(), issued.Token, KindAccess); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ttl %v: expected ErrInvalid, got %v", ttl, err)
		}
		if f.observer.last() != ReasonExpired {
			t.Fatalf("ttl %v: expected expired reason, got %q", ttl, f.observer.last())
		}
	}
}

func TestTypeIsolation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, issuedAs := range Kinds {
		tok, err := f.codec.Create(map[string]any{"sub": "u"}, issuedAs)
		if err != nil {
			t.Fatalf("create %s: %v", issuedAs, err)
		}
		for _, expected := range Kinds {
			_, err := f.codec.Decode(ctx, tok, expected)
			if issuedAs == expected && err != nil {
				t.Fatalf("%s as %s: expected success, got %v", issuedAs, expected, err)
			}
			if issuedAs != expected && !errors.Is(err, ErrInvalid) {
				t.Fatalf("%s as %s: expected ErrInvalid, got %v", issuedAs, expected, err)
			}
		}
	}
}

func TestRevocation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	issued, err := f.codec.Issue(map[string]any{"sub": "u"}, KindRefresh)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.codec.Decode(ctx, issued.Token, KindRefresh); err != nil {
		t.Fatalf("decode before revoke: %v", err)
	}
	if err := f.store.Revoke(ctx, issued.Claims.ID, issued.Claims.ExpiresAt); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.codec.Decode(ctx, issued.Token, KindRefresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after revoke, got %v", err)
	}
	if f.observer.last() != ReasonRevoked {
		t.Fatalf("expected revoked reason, got %q", f.observer.last())
	}

	peeked, err := f.codec.Peek(issued.Token)
	if err != nil || peeked.ID != issued.Claims.ID {
		t.Fatalf("expected peek to ignore revocation, got %v", err)
	}
}

func TestRevocationStoreDownFailsClosed(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Revocations = failingStore{} })
	tok, _ := f.codec.Create(map[string]any{"sub": "u"}, KindAccess)
	if _, err := f.codec.Decode(context.Background(), tok, KindAccess); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if f.observer.last() != ReasonRevocationUnavailable {
		t.Fatalf("expected revocation_unavailable, got %q", f.observer.last())
	}
}

func TestDeviceBinding(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bound, _ := f.codec.Create(map[string]any{"sub": "u"}, KindAccess, WithDeviceFingerprint(fpAlice))
	unbound, _ := f.codec.Create(map[string]any{"sub": "u"}, KindAccess)

	if _, err := f.codec.Decode(ctx, bound, KindAccess, WithExpectedDevice(fpAlice)); err != nil {
		t.Fatalf("expected matching device to pass: %v", err)
	}
	if _, err := f.codec.Decode(ctx, bound, KindAccess); err != nil {
		t.Fatalf("expected bound token without device check to pass: %v", err)
	}
	if _, err := f.codec.Decode(ctx, bound, KindAccess, WithExpectedDevice(fpOther)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected mismatched device to fail, got %v", err)
	}
	if _, err := f.codec.Decode(ctx, unbound, KindAccess, WithExpectedDevice(fpAlice)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unbound token to fail device check, got %v", err)
	}
}

func TestDeviceFingerprintIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	upper := strings.ToUpper(fpAlice)

	tok, err := f.codec.Create(map[string]any{"sub": "u"}, KindAccess, WithDeviceFingerprint(upper))
	if err != nil {
		t.Fatalf("expected uppercase fingerprint to be accepted: %v", err)
	}
	claims, err := f.codec.Decode(ctx, tok, KindAccess, WithExpectedDevice(fpAlice))
	if err != nil {
		t.Fatalf("expected lowercase expectation to match: %v", err)
	}
	if claims.DeviceFingerprint != fpAlice {
		t.Fatalf("expected lowercase claim %q, got %q", fpAlice, claims.DeviceFingerprint)
	}
	if _, err := f.codec.Decode(ctx, tok, KindAccess, WithExpectedDevice(upper)); err != nil {
		t.Fatalf("expected uppercase expectation to match: %v", err)
	}
}

func TestDecodeRejectReasons(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	good, _ := f.codec.Create(map[string]any{"sub": "u"}, KindAccess)

	parts := strings.Split(good, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	otherKeys, _ := jwt.NewKeyManager(jwt.KeyConfig{Method: jwt.MethodHS256, Secret: []byte("Hm4Pz9Wc2Rv7Kx1Nb8Qs3Ty6Lg0Jd5Fa_Ue-Oi4Xk9Cw")})
	otherAud, _ := jwt.NewManager(jwt.Config{Keys: f.keys, Issuer: "gotoken", Audience: "billing"})
	otherIss, _ := jwt.NewManager(jwt.Config{Keys: f.keys, Issuer: "someone-else", Audience: "api"})
	foreign, _ := jwt.NewManager(jwt.Config{Keys: otherKeys, Issuer: "gotoken", Audience: "api"})

	sign := func(m *jwt.Manager) string {
		c, _ := NewCodec(Config{Signer: m})
		tok, err := c.Create(map[string]any{"sub": "u"}, KindAccess)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return tok
	}

	now := time.Now()
	missingJTI, _ := f.signer.Sign(&Claims{Subject: "u", Kind: KindAccess, Issuer: "gotoken", Audience: []string{"api"}, IssuedAt: now, ExpiresAt: now.Add(time.Minute)})

	cases := []struct {
		name  string
		token string
		want  RejectReason
	}{
		{"empty", "", ReasonMalformed},
		{"garbage", "not.a.token", ReasonMalformed},
		{"tampered", tampered, ReasonSignature},
		{"foreign key", sign(foreign), ReasonUnknownKey},
		{"audience", sign(otherAud), ReasonAudience},
		{"issuer", sign(otherIss), ReasonIssuer},
		{"missing jti", missingJTI, ReasonMissingClaims},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := f.codec.Decode(ctx, tc.token, KindAccess)
			if !errors.Is(err, ErrInvalid) || claims != nil {
				t.Fatalf("expected ErrInvalid with nil claims, got %v, %v", claims, err)
			}
			if err != ErrInvalid {
				t.Fatalf("expected the bare ErrInvalid sentinel, got %v", err)
			}
			if got := f.observer.last(); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTTLDefaultsAndCaps(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TTLs = map[Kind]time.Duration{KindAccess: 45 * time.Minute, KindResetPassword: 3 * time.Hour}
	})
	if f.codec.TTL(KindAccess) != 45*time.Minute {
		t.Fatalf("expected override, got %v", f.codec.TTL(KindAccess))
	}
	if f.codec.TTL(KindResetPassword) != time.Hour {
		t.Fatalf("expected reset ttl capped at 1h, got %v", f.codec.TTL(KindResetPassword))
	}
	if f.codec.TTL(KindRefresh) != 7*24*time.Hour || f.codec.TTL(KindEmailVerification) != 24*time.Hour {
		t.Fatal("unexpected default ttls")
	}

	issued, err := f.codec.Issue(map[string]any{"sub": "u"}, KindEmailVerification, WithTTL(72*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := issued.Claims.ExpiresAt.Sub(issued.Claims.IssuedAt); got != 24*time.Hour {
		t.Fatalf("expected email verification capped at 24h, got %v", got)
	}

	if _, err := NewCodec(Config{Signer: f.signer, TTLs: map[Kind]time.Duration{KindAccess: 0}}); err == nil {
		t.Fatal("expected non-positive configured ttl to fail")
	}
}

func TestComplianceTag(t *testing.T) {
	tag := &ComplianceTag{Frameworks: []string{"SOC2", "GDPR"}, DataClassification: "confidential", PolicyVersion: "2024.1", Environment: "production"}
	f := newFixture(t, func(c *Config) { c.Compliance = tag })
	tok, _ := f.codec.Create(map[string]any{"sub": "u"}, KindAccess)

	claims, err := f.codec.Decode(context.Background(), tok, KindAccess)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Compliance == nil || claims.Compliance.DataClassification != "confidential" || len(claims.Compliance.Frameworks) != 2 {
		t.Fatalf("unexpected compliance tag: %+v", claims.Compliance)
	}
	if _, ok := claims.Extra["compliance"]; ok {
		t.Fatal("expected compliance to be kept out of caller claims")
	}
}

func TestIssueObserved(t *testing.T) {
	f := newFixture(t, nil)
	_, _ = f.codec.Create(map[string]any{"sub": "u"}, KindAccess)
	_, _ = f.codec.Create(map[string]any{"sub": "u"}, KindRefresh)
	if len(f.observer.issued) != 2 || f.observer.issued[1] != KindRefresh {
		t.Fatalf("unexpected issued kinds: %v", f.observer.issued)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Access "); err != nil || k != KindAccess {
		t.Fatalf("expected access, got %q, %v", k, err)
	}
	if _, err := ParseKind("session"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
