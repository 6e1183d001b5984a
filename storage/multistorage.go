package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/hashicorp/go-multierror"
)

// MultiStorageBackend implements interfaces.StorageBackend using multiple backends with fallback
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the envelope from the first available backend that has it.
// ErrArtifactNotFound is returned only when every reachable backend reports
// the artifact missing.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	return m.fetch(ctx, id, "")
}

// FetchVerified is like Fetch but skips copies that do not match checksum and
// moves on to the next backend. ErrChecksumMismatch is returned when every
// copy found was corrupt.
func (m *MultiStorageBackend) FetchVerified(ctx context.Context, id interfaces.ArtifactID, checksum string) ([]byte, error) {
	return m.fetch(ctx, id, checksum)
}

func (m *MultiStorageBackend) fetch(ctx context.Context, id interfaces.ArtifactID, checksum string) ([]byte, error) {
	start := time.Now()
	var errs *multierror.Error
	reachable, missing, corrupt := 0, 0, 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact_id", id.String()))
			continue
		}
		reachable++

		data, err := backend.Fetch(ctx, id)
		if err == nil && checksum != "" {
			if verr := VerifyChecksum(data, checksum); verr != nil {
				corrupt++
				m.log.Warn("Backend holds a corrupt copy",
					slog.String("backend_name", backend.Name()),
					slog.String("artifact_id", id.String()))
				continue
			}
		}
		if err == nil {
			m.log.Debug("Fetched artifact",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact_id", id.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrArtifactNotFound) {
			missing++
			continue
		}

		errs = multierror.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("artifact_id", id.String()),
			"err", err)
	}

	if reachable == 0 {
		return nil, interfaces.ErrStoreUnavailable
	}
	if corrupt > 0 && corrupt+missing == reachable {
		return nil, fmt.Errorf("%w: %d corrupt copies", interfaces.ErrChecksumMismatch, corrupt)
	}
	if missing == reachable {
		return nil, interfaces.ErrArtifactNotFound
	}

	m.log.Error("All backends failed to fetch artifact",
		slog.String("artifact_id", id.String()),
		slog.Int("failed_backends", len(errs.WrappedErrors())),
		slog.Int("corrupt_copies", corrupt),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, errs.ErrorOrNil())
}

// Store saves data to all available backends. It succeeds when at least one
// backend accepted the envelope.
func (m *MultiStorageBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	start := time.Now()
	var errs *multierror.Error
	stored := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Store(ctx, id, data); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("artifact_id", id.String()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to store artifact",
			slog.String("artifact_id", id.String()),
			slog.Int("failed_backends", len(errs.WrappedErrors())),
			slog.Duration("duration", time.Since(start)))
		if errs == nil {
			return interfaces.ErrStoreUnavailable
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, errs.ErrorOrNil())
	}

	m.log.Debug("Stored artifact",
		slog.String("artifact_id", id.String()),
		slog.Int("backends", stored),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Exists reports true if any available backend holds the artifact. A false
// answer is only given when every reachable backend reports it missing;
// otherwise the outage is returned as ErrStoreUnavailable.
func (m *MultiStorageBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	var errs *multierror.Error
	reachable := 0
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		reachable++
		ok, err := backend.Exists(ctx, id)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		if ok {
			return true, nil
		}
	}

	if reachable == 0 {
		return false, interfaces.ErrStoreUnavailable
	}
	if errs != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, errs.ErrorOrNil())
	}
	return false, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}

// Backends returns the wrapped backends.
func (m *MultiStorageBackend) Backends() []interfaces.StorageBackend {
	return m.backends
}
