// Package main (cmd/controlplane) runs the Cloq control plane.
//
// The control plane accepts sealed envelopes from vendors, records them in a
// catalog and serves them back to enterprises by artifact id. It never holds
// key material and never decrypts a payload: uploads are only checked for a
// structurally valid envelope header.
//
// Envelopes are written to every configured storage backend. Backends are
// given as URIs and may be repeated:
//
//	file:///var/lib/cloq
//	s3://bucket/prefix?region=eu-west-1
//	ipfs://localhost:5001/cloq
//	vault://vault.internal:8200/secret/cloq?token_env=VAULT_TOKEN
//	badger:///var/lib/cloq-kv
//
// Any flag may also be set from a YAML file passed with --config.
//
// Example usage:
//
//	cloq-controlplane --listen-addr=0.0.0.0:8080 \
//	    --storage=file:///var/lib/cloq \
//	    --storage=s3://cloq-artifacts/prod?region=eu-west-1 \
//	    --catalog-db=/var/lib/cloq/catalog.db
package main
