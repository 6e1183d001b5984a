package interfaces

import "errors"

var (
	// ErrInvalidBundle is returned when a bundle cannot be produced from a source
	// tree or when a payload contains an entry that must not be materialized
	// (absolute path, parent traversal, links, special files, duplicates).
	ErrInvalidBundle = errors.New("invalid bundle")

	// ErrAuthenticationFailure is returned when the AEAD tag does not verify.
	// No plaintext is ever released alongside it.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrUnwrapFailure is returned for any failure to recover a content key
	// from its wrapped form. It intentionally carries no detail.
	ErrUnwrapFailure = errors.New("key unwrap failure")

	// ErrMalformedEnvelope is returned when envelope bytes do not follow the
	// binary layout or carry an unknown format version.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrStoreUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrStoreUnavailable = errors.New("artifact store unavailable")

	// ErrArtifactNotFound is returned when no artifact exists for an identifier.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrChecksumMismatch is returned when stored or transferred envelope bytes
	// no longer match the checksum recorded at upload.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrInvalidArtifactID is returned when an identifier is not a canonical UUID.
	ErrInvalidArtifactID = errors.New("invalid artifact id")
)
