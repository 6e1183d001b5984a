package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/google/uuid"
)

// IPFSBackend implements a storage backend on an IPFS node's mutable file
// system (MFS). Envelopes are written to a temporary MFS path and moved
// into place so readers never see partial content.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the node API at host:port.
// Artifacts live under the MFS directory root.
func NewIPFSBackend(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/cloq"
	}

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, root, timeout),
	}, nil
}

// Fetch reads an envelope from MFS.
// Returns ErrArtifactNotFound if the file doesn't exist or ErrStoreUnavailable
// if the IPFS node is not accessible.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	start := time.Now()
	filePath, err := b.getIPFSPath(id)
	if err != nil {
		return nil, err
	}

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrStoreUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, filePath)
	if err != nil {
		if isIPFSNotFound(err) {
			b.log.Debug("Artifact not found in IPFS",
				slog.String("path", filePath),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrArtifactNotFound
		}

		b.log.Error("Failed to read artifact from IPFS",
			slog.String("path", filePath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched artifact from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store writes an envelope into MFS.
// Returns ErrStoreUnavailable if the IPFS node is not accessible.
func (b *IPFSBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	filePath, err := b.getIPFSPath(id)
	if err != nil {
		return err
	}

	if !b.shell.IsUp() {
		return interfaces.ErrStoreUnavailable
	}

	tmpPath := path.Join(b.root, ".tmp", uuid.NewString())
	err = b.shell.FilesWrite(ctx, tmpPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	if err := b.shell.FilesMv(ctx, tmpPath, filePath); err != nil {
		if rmErr := b.shell.FilesRm(ctx, tmpPath, true); rmErr != nil {
			b.log.Warn("Failed to remove temporary IPFS file", slog.String("path", tmpPath), "err", rmErr)
		}
		return fmt.Errorf("failed to publish data in IPFS: %w", err)
	}

	b.log.Debug("Stored artifact in IPFS",
		slog.String("path", filePath),
		slog.String("artifact_id", id.String()))

	return nil
}

// Exists stats the MFS entry for id.
func (b *IPFSBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	filePath, err := b.getIPFSPath(id)
	if err != nil {
		return false, err
	}
	if _, err := b.shell.FilesStat(ctx, filePath); err != nil {
		if isIPFSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return true, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) getIPFSPath(id interfaces.ArtifactID) (string, error) {
	name, err := objectName(id)
	if err != nil {
		return "", err
	}
	return path.Join(b.root, "artifacts", name), nil
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "file not found")
}
