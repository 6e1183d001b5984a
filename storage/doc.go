// Package storage provides the control plane's opaque artifact store with
// pluggable backends.
//
// Envelopes are stored under server-assigned identifiers across one or more
// storage backends:
//
//   - File system storage for local deployments and testing
//   - S3-compatible storage for cloud deployments
//   - IPFS mutable file system storage
//   - Vault KV v2 storage
//   - Embedded BadgerDB storage
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/cloq/
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&path_style=true
//   - ipfs://localhost:5001/cloq?timeout=30s
//   - vault://vault.example.com:8200/secret/cloq?token_env=VAULT_TOKEN
//   - badger:///var/lib/cloq/badger or badger://?inmemory=true
//
// Credentials may be embedded in S3 URIs; they are redacted whenever a
// location is logged. Vault tokens are only read from the environment.
//
// # Opaque Storage
//
// Backends see only envelope bytes. The Store records each upload in a
// catalog (SQLite or in-memory) together with a BLAKE3 checksum that is
// verified on every read. The checksum guards against storage corruption
// only; authenticity of the contents is established by the recipient when
// the envelope is unsealed.
//
// # Multi-Backend Redundancy
//
// MultiStorageBackend writes to every available backend and reads from the
// first one that holds the artifact:
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.CreateMultiBackend(locations)
//	store := storage.NewStore(backend, catalog, logger)
package storage
