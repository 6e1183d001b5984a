package interfaces

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactID is the opaque identifier the control plane assigns to an
// uploaded envelope. It is always a canonical lowercase UUID string.
type ArtifactID string

// NewArtifactID returns a fresh random identifier.
func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// ParseArtifactID validates and canonicalizes an identifier received from a client.
func ParseArtifactID(s string) (ArtifactID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArtifactID, err)
	}
	return ArtifactID(u.String()), nil
}

// String returns the canonical representation.
func (id ArtifactID) String() string {
	return string(id)
}

// ArtifactLabels are the non-sensitive descriptive fields a vendor may attach
// to an upload. None of them are derived from the sealed payload.
type ArtifactLabels struct {
	VendorID string `json:"vendorId,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ArtifactRecord is the control plane's catalog entry for one envelope.
// It never contains key material or plaintext.
type ArtifactRecord struct {
	ID ArtifactID `json:"artifactId"`
	ArtifactLabels

	Size            int64     `json:"size"`
	Checksum        string    `json:"checksum"`
	EnvelopeVersion uint32    `json:"envelopeVersion"`
	Backend         string    `json:"backend"`
	UploadedAt      time.Time `json:"uploadedAt"`
}

// CatalogStats summarizes the catalog.
type CatalogStats struct {
	TotalArtifacts int64 `json:"totalArtifacts"`
	TotalBytes     int64 `json:"totalBytes"`
	Vendors        int64 `json:"vendors"`
}

// ArtifactStore is the opaque envelope store contract. No method accepts or
// returns key material.
type ArtifactStore interface {
	// Put stores envelope bytes under a freshly assigned identifier.
	Put(ctx context.Context, data []byte) (ArtifactID, error)

	// Get returns the complete envelope bytes or ErrArtifactNotFound.
	Get(ctx context.Context, id ArtifactID) ([]byte, error)

	// Exists reports whether an envelope is stored under id.
	Exists(ctx context.Context, id ArtifactID) (bool, error)
}

// ArtifactRegistry is the catalog-aware store used by the control plane API.
type ArtifactRegistry interface {
	ArtifactStore

	// Publish stores envelope bytes and records them with the given labels.
	Publish(ctx context.Context, data []byte, envelopeVersion uint32, labels ArtifactLabels) (*ArtifactRecord, error)

	// Record returns the catalog entry for id or ErrArtifactNotFound.
	Record(ctx context.Context, id ArtifactID) (*ArtifactRecord, error)

	// List returns catalog entries, newest first. An empty vendorID lists all.
	List(ctx context.Context, vendorID string) ([]ArtifactRecord, error)

	// Stats summarizes the catalog.
	Stats(ctx context.Context) (*CatalogStats, error)
}

// ArtifactCatalog persists artifact records.
type ArtifactCatalog interface {
	Insert(ctx context.Context, rec *ArtifactRecord) error
	Get(ctx context.Context, id ArtifactID) (*ArtifactRecord, error)
	List(ctx context.Context, vendorID string) ([]ArtifactRecord, error)
	Stats(ctx context.Context) (*CatalogStats, error)
	Close() error
}
