package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs and
// manages multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{
		log: logger,
	}
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS mutable file system on a local or remote node
//   - vault:// - HashiCorp Vault KV v2 mount
//   - badger:// - Embedded BadgerDB key-value store
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch {
	case location.IsFile():
		return sf.createFileBackend(location)
	case location.IsS3():
		return sf.createS3Backend(location)
	case location.IsIPFS():
		return sf.createIPFSBackend(location)
	case location.IsVault():
		return sf.createVaultBackend(location)
	case location.IsBadger():
		return sf.createBadgerBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location URIs.
// It will store content to all available backends and fetch from the first one that has the content.
// Returns an error if no valid backends could be created from the provided URIs.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no valid storage backends created", interfaces.ErrStoreUnavailable)
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileBackend(path, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&path_style=true
// Without embedded credentials the default AWS credential chain applies.
func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("uri", location.String()))

	cfg := S3Config{
		Bucket:    location.Host,
		Prefix:    strings.TrimPrefix(location.Path, "/"),
		Region:    location.GetParamDefault("region", "us-east-1"),
		Endpoint:  location.GetParam("endpoint"),
		PathStyle: location.GetParamBool("path_style"),
	}
	if location.User != nil {
		cfg.AccessKey = location.User.Username()
		cfg.SecretKey, _ = location.User.Password()
	}

	return NewS3Backend(cfg, sf.log)
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://host:port/mfs/root?timeout=30s
func (sf *StorageBackendFactory) createIPFSBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("uri", location.String()))

	host, port, found := strings.Cut(location.Host, ":")
	if host == "" {
		host = "localhost"
	}
	if !found || port == "" {
		port = "5001"
	}

	timeout, err := location.GetParamDuration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return NewIPFSBackend(host, port, location.Path, timeout, sf.log)
}

// createVaultBackend creates a Vault KV v2 storage backend.
// URI format: vault://host:8200/mount/path?tls=true&token_env=VAULT_TOKEN&timeout=30s
// The token is read from the named environment variable, never from the URI.
func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault address", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	mount, dataPath, _ := strings.Cut(strings.Trim(location.Path, "/"), "/")

	token := os.Getenv(location.GetParamDefault("token_env", "VAULT_TOKEN"))

	timeout, err := location.GetParamDuration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return NewVaultBackend(address, mount, dataPath, token, timeout, sf.log)
}

// createBadgerBackend creates an embedded BadgerDB backend.
// URI format: badger:///var/lib/cloq/badger or badger://?inmemory=true
func (sf *StorageBackendFactory) createBadgerBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating badger backend", slog.String("uri", location.String()))

	inMemory := location.GetParamBool("inmemory")
	path := location.LocalPath()
	if path == "" && !inMemory {
		return nil, fmt.Errorf("%w: empty path in badger URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewBadgerBackend(path, inMemory, sf.log)
}
