package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
)

// Store is the control plane's opaque artifact store. It assigns identifiers,
// writes envelope bytes to a backend and records each upload in a catalog.
// It never inspects or holds key material.
type Store struct {
	backend interfaces.StorageBackend
	catalog interfaces.ArtifactCatalog
	log     *slog.Logger
	now     func() time.Time
}

// NewStore wires a backend and a catalog together.
func NewStore(backend interfaces.StorageBackend, catalog interfaces.ArtifactCatalog, log *slog.Logger) *Store {
	return &Store{
		backend: backend,
		catalog: catalog,
		log:     log,
		now:     time.Now,
	}
}

// Put stores envelope bytes without labels.
func (s *Store) Put(ctx context.Context, data []byte) (interfaces.ArtifactID, error) {
	rec, err := s.Publish(ctx, data, 0, interfaces.ArtifactLabels{})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Publish stores envelope bytes under a fresh identifier and records them.
// The bytes are fully written before the record becomes visible.
func (s *Store) Publish(ctx context.Context, data []byte, envelopeVersion uint32, labels interfaces.ArtifactLabels) (*interfaces.ArtifactRecord, error) {
	id := interfaces.NewArtifactID()

	if err := s.backend.Store(ctx, id, data); err != nil {
		s.log.Error("Failed to store artifact",
			slog.String("artifact_id", id.String()),
			slog.String("backend", s.backend.Name()),
			"err", err)
		return nil, err
	}

	rec := &interfaces.ArtifactRecord{
		ID:              id,
		ArtifactLabels:  labels,
		Size:            int64(len(data)),
		Checksum:        Checksum(data),
		EnvelopeVersion: envelopeVersion,
		Backend:         s.backend.Name(),
		UploadedAt:      s.now().UTC(),
	}
	if err := s.catalog.Insert(ctx, rec); err != nil {
		s.log.Error("Failed to record artifact",
			slog.String("artifact_id", id.String()),
			"err", err)
		return nil, err
	}

	s.log.Info("Artifact stored",
		slog.String("artifact_id", id.String()),
		slog.String("vendor_id", labels.VendorID),
		slog.Int64("size", rec.Size))
	return rec, nil
}

// verifyingFetcher is implemented by backends that can skip corrupt copies.
type verifyingFetcher interface {
	FetchVerified(ctx context.Context, id interfaces.ArtifactID, checksum string) ([]byte, error)
}

// Get returns the stored envelope bytes after verifying them against the
// checksum recorded at upload.
func (s *Store) Get(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	id, err := interfaces.ParseArtifactID(id.String())
	if err != nil {
		return nil, err
	}

	rec, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var data []byte
	if vf, ok := s.backend.(verifyingFetcher); ok {
		data, err = vf.FetchVerified(ctx, id, rec.Checksum)
	} else {
		data, err = s.backend.Fetch(ctx, id)
	}
	if err != nil {
		if errors.Is(err, interfaces.ErrChecksumMismatch) {
			s.log.Error("Stored artifact failed checksum verification",
				slog.String("artifact_id", id.String()),
				slog.String("backend", s.backend.Name()))
		}
		return nil, err
	}

	if err := VerifyChecksum(data, rec.Checksum); err != nil {
		s.log.Error("Stored artifact failed checksum verification",
			slog.String("artifact_id", id.String()),
			slog.String("backend", s.backend.Name()))
		return nil, fmt.Errorf("%w: artifact %s", err, id)
	}
	return data, nil
}

// Exists reports whether id is recorded and present in the backend.
func (s *Store) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	id, err := interfaces.ParseArtifactID(id.String())
	if err != nil {
		return false, err
	}
	if _, err := s.catalog.Get(ctx, id); err != nil {
		if errors.Is(err, interfaces.ErrArtifactNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.backend.Exists(ctx, id)
}

// Record returns the catalog entry for id.
func (s *Store) Record(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactRecord, error) {
	id, err := interfaces.ParseArtifactID(id.String())
	if err != nil {
		return nil, err
	}
	return s.catalog.Get(ctx, id)
}

// List returns catalog entries, newest first.
func (s *Store) List(ctx context.Context, vendorID string) ([]interfaces.ArtifactRecord, error) {
	return s.catalog.List(ctx, vendorID)
}

// Stats summarizes the catalog.
func (s *Store) Stats(ctx context.Context) (*interfaces.CatalogStats, error) {
	return s.catalog.Stats(ctx)
}

// Available reports whether the backend can currently serve requests.
func (s *Store) Available(ctx context.Context) bool {
	return s.backend.Available(ctx)
}

// LocationURI returns the backend URI, without credentials.
func (s *Store) LocationURI() string {
	return s.backend.LocationURI()
}
