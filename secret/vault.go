package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig addresses a KV v2 mount.
type VaultConfig struct {
	Address   string
	Token     string
	Mount     string // defaults to "secret"
	Namespace string
}

// VaultStore reads and writes secrets in a Vault KV v2 engine. Each secret is a
// KV entry whose "value" field carries the material.
type VaultStore struct {
	client *vault.Client
	mount  string
}

func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("vault address is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("vault token is required")
	}

	vc := vault.DefaultConfig()
	if vc.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vc.Error)
	}
	vc.Address = cfg.Address
	// callStore owns retries.
	vc.MaxRetries = 0

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &VaultStore{client: client, mount: mount}, nil
}

func (s *VaultStore) dataPath(name string) string {
	return s.mount + "/data/" + strings.TrimLeft(name, "/")
}

func (s *VaultStore) GetSecret(ctx context.Context, name string) (string, error) {
	sec, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(name))
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", name, err)
	}
	if sec == nil || sec.Data == nil {
		return "", ErrNotFound
	}
	data, ok := sec.Data["data"].(map[string]interface{})
	if !ok {
		return "", ErrNotFound
	}
	value, ok := data["value"].(string)
	if !ok || value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *VaultStore) PutSecret(ctx context.Context, name, value string) error {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"value": value,
		},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(name), body); err != nil {
		return fmt.Errorf("vault write %s: %w", name, err)
	}
	return nil
}
