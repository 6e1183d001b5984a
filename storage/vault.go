package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/hashicorp/vault/api"
)

// VaultBackend implements a storage backend on a HashiCorp Vault KV v2 mount.
// Envelope bytes are stored base64-encoded under the "content" key.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "cloq")
//   - token: Vault token used for every request
//   - log: Structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath, token string, timeout time.Duration, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = timeout

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

// Fetch retrieves an envelope from Vault by its artifact identifier.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	start := time.Now()
	secretPath, err := b.secretPath(id)
	if err != nil {
		return nil, err
	}

	secret, err := b.client.KVv2(b.mountPath).Get(ctx, secretPath)
	if errors.Is(err, api.ErrSecretNotFound) {
		b.log.Debug("Artifact not found in Vault",
			slog.String("path", secretPath))
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", secretPath),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	content, ok := secret.Data["content"].(string)
	if !ok {
		b.log.Error("Content key not found in Vault data",
			slog.String("path", secretPath))
		return nil, fmt.Errorf("content key not found in Vault data")
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data: %w", err)
	}

	b.log.Debug("Fetched artifact from Vault",
		slog.String("artifact_id", id.String()),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store writes an envelope to Vault. A KV v2 write creates a complete new
// version atomically.
func (b *VaultBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	start := time.Now()
	secretPath, err := b.secretPath(id)
	if err != nil {
		return err
	}

	_, err = b.client.KVv2(b.mountPath).Put(ctx, secretPath, map[string]interface{}{
		"content": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored artifact in Vault",
		slog.String("artifact_id", id.String()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Exists reads the secret and reports whether it is present.
func (b *VaultBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	_, err := b.Fetch(ctx, id)
	if errors.Is(err, interfaces.ErrArtifactNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(id interfaces.ArtifactID) (string, error) {
	clean, err := interfaces.ParseArtifactID(id.String())
	if err != nil {
		return "", err
	}
	if b.dataPath == "" {
		return "artifacts/" + clean.String(), nil
	}
	return b.dataPath + "/artifacts/" + clean.String(), nil
}
