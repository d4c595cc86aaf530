package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// vaultBackend stores the identity document in HashiCorp Vault's KV v2
// engine. Authentication follows the standard Vault environment (VAULT_TOKEN
// and friends) unless a token is provided explicitly.
type vaultBackend struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed identity store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; empty means rely on VAULT_TOKEN
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "anisette/identity")
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*DocStore, error) {
	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return newDocStore(&vaultBackend{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}), nil
}

func (b *vaultBackend) read(ctx context.Context) ([]byte, error) {
	path := b.secretPath()

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}

	// KV v2 wraps the payload in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	doc, ok := data["document"].(string)
	if !ok {
		return nil, fmt.Errorf("document key not found in Vault data")
	}

	b.log.Debug("Read identity document from Vault", slog.String("path", path))
	return []byte(doc), nil
}

func (b *vaultBackend) write(ctx context.Context, doc []byte) error {
	path := b.secretPath()

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"document": string(doc),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored identity document in Vault", slog.String("path", path))
	return nil
}

func (b *vaultBackend) Name() string {
	return fmt.Sprintf("vault-%s/%s", b.mountPath, b.dataPath)
}

// secretPath builds the KV v2 data path.
func (b *vaultBackend) secretPath() string {
	return fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)
}
