// Package interfaces defines the contracts shared by the sealing core, the
// control plane and the command-line tools, separating interface definitions
// from implementations.
//
// # Errors
//
// The package owns the error taxonomy. Every failure surfaced by the core
// wraps one of the sentinels below and is matched with errors.Is:
//
//   - ErrInvalidBundle: a source tree or payload that cannot be bundled or safely unpacked
//   - ErrAuthenticationFailure: AEAD tag verification failed
//   - ErrUnwrapFailure: the content key could not be recovered
//   - ErrMalformedEnvelope: envelope bytes violate the binary layout
//   - ErrStoreUnavailable: a storage backend could not be reached
//
// # Storage Interfaces
//
// StorageBackend: opaque byte storage keyed by ArtifactID across multiple
// backend types (file, S3, IPFS, Vault, Badger).
//
// ArtifactStore: the put/get/exists contract the control plane offers for
// envelopes. ArtifactRegistry extends it with a catalog of ArtifactRecords.
//
// None of these interfaces accept or return key material; the control plane
// cannot decrypt what it stores.
package interfaces
