package secret

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func noEnv(string) (string, bool) { return "", false }

func envWith(name, value string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		if k == name {
			return value, true
		}
		return "", false
	}
}

type flakyStore struct {
	inner    *MemoryStore
	getFails atomic.Int32
	putFails atomic.Int32
	gets     atomic.Int32
	puts     atomic.Int32
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) GetSecret(ctx context.Context, name string) (string, error) {
	f.gets.Add(1)
	if f.getFails.Add(-1) >= 0 {
		return "", errStoreDown
	}
	return f.inner.GetSecret(ctx, name)
}

func (f *flakyStore) PutSecret(ctx context.Context, name, value string) error {
	f.puts.Add(1)
	if f.putFails.Add(-1) >= 0 {
		return errStoreDown
	}
	return f.inner.PutSecret(ctx, name, value)
}

func TestSigningSecretResolutionOrder(t *testing.T) {
	store := NewMemoryStore()
	_ = store.PutSecret(context.Background(), DefaultStoreName, strongSecretAlt)

	p := NewProvider(ProviderConfig{Explicit: strongSecret, Store: store, lookupEnv: noEnv})
	s, err := p.SigningSecret(context.Background(), Production)
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if string(s.Reveal()) != strongSecret {
		t.Fatal("expected explicit value to win")
	}

	p = NewProvider(ProviderConfig{Store: store, lookupEnv: envWith(DefaultEnvVar, strongSecret)})
	s, err = p.SigningSecret(context.Background(), Production)
	if err != nil {
		t.Fatalf("resolve store: %v", err)
	}
	if string(s.Reveal()) != strongSecretAlt {
		t.Fatal("expected store value to win over env var")
	}
	meta, ok := p.Metadata(Production)
	if !ok || meta.Source != SourceStore || meta.Version != 1 || meta.ID == "" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	p = NewProvider(ProviderConfig{lookupEnv: envWith(DefaultEnvVar, strongSecret)})
	s, err = p.SigningSecret(context.Background(), Production)
	if err != nil {
		t.Fatalf("resolve env: %v", err)
	}
	if string(s.Reveal()) != strongSecret {
		t.Fatal("expected env var value")
	}
}

func TestSigningSecretProductionFailsClosed(t *testing.T) {
	p := NewProvider(ProviderConfig{lookupEnv: noEnv})
	_, err := p.SigningSecret(context.Background(), Production)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSigningSecretProductionRejectsWeakValue(t *testing.T) {
	p := NewProvider(ProviderConfig{Explicit: "short", lookupEnv: noEnv})
	_, err := p.SigningSecret(context.Background(), Production)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSigningSecretNonProductionFallbacks(t *testing.T) {
	a := NewProvider(ProviderConfig{lookupEnv: noEnv})
	b := NewProvider(ProviderConfig{lookupEnv: noEnv})

	sa, err := a.SigningSecret(context.Background(), Testing)
	if err != nil {
		t.Fatalf("testing fallback: %v", err)
	}
	sb, _ := b.SigningSecret(context.Background(), Testing)
	if !sa.Equal(sb) {
		t.Fatal("expected testing fallback to be deterministic across providers")
	}
	if ok, reason := ValidateStrength(string(sa.Reveal()), KindSigning, Testing); !ok {
		t.Fatalf("expected deterministic fallback to pass strength: %s", reason)
	}

	da, err := a.SigningSecret(context.Background(), Development)
	if err != nil {
		t.Fatalf("development fallback: %v", err)
	}
	db, _ := b.SigningSecret(context.Background(), Development)
	if da.Equal(db) {
		t.Fatal("expected development fallback to be freshly generated")
	}
	meta, _ := a.Metadata(Development)
	if meta.Source != SourceGenerated {
		t.Fatalf("expected generated source, got %s", meta.Source)
	}

	again, _ := a.SigningSecret(context.Background(), Development)
	if !again.Equal(da) {
		t.Fatal("expected cached secret on second resolution")
	}
}

func TestSigningSecretStoreRetriedOnce(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore()}
	_ = store.inner.PutSecret(context.Background(), DefaultStoreName, strongSecret)
	store.getFails.Store(1)

	p := NewProvider(ProviderConfig{Store: store, lookupEnv: noEnv})
	s, err := p.SigningSecret(context.Background(), Production)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if string(s.Reveal()) != strongSecret {
		t.Fatal("unexpected secret value")
	}
	if got := store.gets.Load(); got != 2 {
		t.Fatalf("expected 2 store calls, got %d", got)
	}
}

func TestSigningSecretStoreDownFallsBackToEnv(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore()}
	store.getFails.Store(10)

	p := NewProvider(ProviderConfig{Store: store, lookupEnv: envWith(DefaultEnvVar, strongSecretAlt)})
	s, err := p.SigningSecret(context.Background(), Production)
	if err != nil {
		t.Fatalf("expected env fallback: %v", err)
	}
	if string(s.Reveal()) != strongSecretAlt {
		t.Fatal("expected env var value")
	}
	if got := store.gets.Load(); got != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", got)
	}

	p = NewProvider(ProviderConfig{Store: store, lookupEnv: noEnv})
	if _, err := p.SigningSecret(context.Background(), Production); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable with store down and no env, got %v", err)
	}
}

func TestSigningSecretStoreNotFoundIsNotRetried(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore()}
	p := NewProvider(ProviderConfig{Store: store, lookupEnv: envWith(DefaultEnvVar, strongSecret)})
	if _, err := p.SigningSecret(context.Background(), Production); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := store.gets.Load(); got != 1 {
		t.Fatalf("expected not-found to skip retry, got %d calls", got)
	}
}

func TestRotatePersistsThenUpdatesCache(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore()}
	p := NewProvider(ProviderConfig{Explicit: strongSecret, Store: store, lookupEnv: noEnv})
	if _, err := p.SigningSecret(context.Background(), Production); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	res := p.Rotate(context.Background(), Production, strongSecretAlt)
	if !res.Success {
		t.Fatalf("expected rotation success, got %q", res.Reason)
	}
	if res.OldLength != len(strongSecret) || res.NewLength != len(strongSecretAlt) {
		t.Fatalf("unexpected lengths: %+v", res)
	}
	if res.RotationID == "" || res.RotatedAt.IsZero() || res.Version != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, _ := store.inner.GetSecret(context.Background(), DefaultStoreName)
	if stored != strongSecretAlt {
		t.Fatal("expected new secret persisted to store")
	}
	cur, _ := p.SigningSecret(context.Background(), Production)
	if string(cur.Reveal()) != strongSecretAlt {
		t.Fatal("expected cache to hold the rotated secret")
	}
	meta, _ := p.Metadata(Production)
	if meta.Version != 2 || meta.RotatedAt.IsZero() {
		t.Fatalf("unexpected metadata after rotation: %+v", meta)
	}
}

func TestRotateStoreFailureLeavesCacheUntouched(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore()}
	p := NewProvider(ProviderConfig{Explicit: strongSecret, Store: store, lookupEnv: noEnv})
	if _, err := p.SigningSecret(context.Background(), Production); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	store.putFails.Store(2)

	res := p.Rotate(context.Background(), Production, strongSecretAlt)
	if res.Success {
		t.Fatal("expected rotation to fail while store is down")
	}
	if !strings.Contains(res.Reason, "store unavailable") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if got := store.puts.Load(); got != 2 {
		t.Fatalf("expected one retry on put, got %d calls", got)
	}
	cur, _ := p.SigningSecret(context.Background(), Production)
	if string(cur.Reveal()) != strongSecret {
		t.Fatal("expected cached secret to be unchanged")
	}
	meta, _ := p.Metadata(Production)
	if meta.Version != 1 {
		t.Fatalf("expected version 1, got %d", meta.Version)
	}
}

func TestRotateRejectsWeakSecret(t *testing.T) {
	p := NewProvider(ProviderConfig{lookupEnv: noEnv})
	res := p.Rotate(context.Background(), Development, "short")
	if res.Success || !strings.HasPrefix(res.Reason, "validation:") {
		t.Fatalf("expected validation failure, got %+v", res)
	}
}

func TestRotateWithoutStore(t *testing.T) {
	p := NewProvider(ProviderConfig{Explicit: strongSecret, lookupEnv: noEnv})
	if res := p.Rotate(context.Background(), Production, strongSecretAlt); res.Success {
		t.Fatal("expected production rotation without a store to fail")
	}

	res := p.Rotate(context.Background(), Development, "")
	if !res.Success {
		t.Fatalf("expected in-memory development rotation, got %q", res.Reason)
	}
	if res.NewLength < 32 {
		t.Fatalf("expected generated secret of at least 32 chars, got %d", res.NewLength)
	}
	meta, _ := p.Metadata(Development)
	if meta.Source != SourceRotation {
		t.Fatalf("expected rotation source, got %s", meta.Source)
	}
}

func TestRotateNeverLogsRawSecret(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := &flakyStore{inner: NewMemoryStore()}
	p := NewProvider(ProviderConfig{Explicit: strongSecret, Store: store, Logger: zap.New(core), lookupEnv: noEnv})

	if _, err := p.SigningSecret(context.Background(), Production); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	p.Rotate(context.Background(), Production, strongSecretAlt)
	store.putFails.Store(2)
	p.Rotate(context.Background(), Production, strongSecret)

	if logs.Len() == 0 {
		t.Fatal("expected rotation to be logged")
	}
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, strongSecret) || strings.Contains(entry.Message, strongSecretAlt) {
			t.Fatalf("raw secret leaked in message %q", entry.Message)
		}
		for k, v := range entry.ContextMap() {
			s, _ := v.(string)
			if strings.Contains(s, strongSecret) || strings.Contains(s, strongSecretAlt) {
				t.Fatalf("raw secret leaked in field %s", k)
			}
		}
	}
}

func TestMetadataRotationDue(t *testing.T) {
	now := time.Now()
	m := Metadata{CreatedAt: now.Add(-48 * time.Hour), RotationInterval: 24 * time.Hour}
	if !m.RotationDue(now) {
		t.Fatal("expected rotation to be due")
	}
	m.RotatedAt = now.Add(-time.Hour)
	if m.RotationDue(now) {
		t.Fatal("expected recent rotation to reset the interval")
	}
	if (Metadata{}).RotationDue(now) {
		t.Fatal("expected zero interval to never be due")
	}
}
