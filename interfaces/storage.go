package interfaces

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	User   *url.Userinfo
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "ipfs", "vault", "badger":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the original URI string with any password redacted.
func (loc StorageBackendLocation) String() string {
	u, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Raw
	}
	return u.Redacted()
}

// LocalPath joins host and path for file-like schemes so that both
// file:///abs/dir and file://./rel/dir resolve as expected.
func (loc StorageBackendLocation) LocalPath() string {
	if loc.Host == "" {
		return loc.Path
	}
	return loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
}

func (loc StorageBackendLocation) IsFile() bool   { return loc.Scheme == "file" }
func (loc StorageBackendLocation) IsS3() bool     { return loc.Scheme == "s3" }
func (loc StorageBackendLocation) IsIPFS() bool   { return loc.Scheme == "ipfs" }
func (loc StorageBackendLocation) IsVault() bool  { return loc.Scheme == "vault" }
func (loc StorageBackendLocation) IsBadger() bool { return loc.Scheme == "badger" }

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamDefault returns a query parameter value or def when unset.
func (loc StorageBackendLocation) GetParamDefault(name, def string) string {
	if v := loc.Query.Get(name); v != "" {
		return v
	}
	return def
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// GetParamDuration parses a duration query parameter, falling back to def.
func (loc StorageBackendLocation) GetParamDuration(name string, def time.Duration) (time.Duration, error) {
	value := loc.Query.Get(name)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: %v", ErrInvalidLocationURI, name, err)
	}
	return d, nil
}

// StorageBackend holds envelope bytes keyed by artifact identifier. Backends
// see only opaque bytes.
type StorageBackend interface {
	// Fetch retrieves the complete bytes stored under id, or ErrArtifactNotFound.
	Fetch(ctx context.Context, id ArtifactID) ([]byte, error)

	// Store writes data under id. A concurrent Fetch observes either nothing
	// or the complete value.
	Store(ctx context.Context, id ArtifactID, data []byte) error

	// Exists reports whether id is present.
	Exists(ctx context.Context, id ArtifactID) (bool, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, ipfs://, vault://, badger://
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
