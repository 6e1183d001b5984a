package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cloq-dev/cloq/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Envelopes are stored as <baseDir>/artifacts/<id>.cloq.
type FileBackend struct {
	baseDir     string
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	dir := filepath.Join(baseDir, "artifacts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		dir:         dir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads an envelope from disk. Returns ErrArtifactNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	filePath, err := b.getFilePath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched artifact from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes an envelope through a temporary file and an atomic rename so
// that readers never observe a partial artifact.
func (b *FileBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	filePath, err := b.getFilePath(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", interfaces.ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to publish file: %w", err)
	}

	b.log.Debug("Stored artifact in file",
		slog.String("path", filePath),
		slog.String("artifact_id", id.String()))

	return nil
}

// Exists reports whether an envelope file is present.
func (b *FileBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	filePath, err := b.getFilePath(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.dir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(id interfaces.ArtifactID) (string, error) {
	name, err := objectName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.dir, name), nil
}
