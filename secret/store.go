package secret

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Store is an external secret backend. Implementations return [ErrNotFound]
// (possibly wrapped) when name does not exist.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
	PutSecret(ctx context.Context, name, value string) error
}

const (
	defaultLookupTimeout = 5 * time.Second
	storeRetryDelay      = 100 * time.Millisecond
)

// callStore runs op with a per-attempt timeout and retries it at most once.
// ErrNotFound and caller cancellation are not retried.
func callStore(ctx context.Context, timeout time.Duration, logger *zap.Logger, opName string, op func(context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(storeRetryDelay), 1), ctx)

	return backoff.RetryNotify(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("secret store call failed, retrying",
			zap.String("op", opName),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) PutSecret(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}
