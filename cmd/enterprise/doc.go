// Package main (cmd/enterprise) is the enterprise side of Cloq: it downloads
// envelopes from the control plane and unseals them with the enterprise
// private key.
//
// Every unseal failure prints the same generic message whatever the cause.
// Run with --log-debug to see the failure class.
//
// Private key files may be passphrase protected; the passphrase is read from
// the environment variable named by --passphrase-env. split-key and
// combine-key escrow the private key as Shamir shares.
//
// Example usage:
//
//	cloq-enterprise download --artifact-id 2b6c... --privkey key.pem --dest ./tool
//	cloq-enterprise inspect --envelope tool.cloq
//	cloq-enterprise validate --envelope tool.cloq --privkey key.pem
//	cloq-enterprise split-key --privkey key.pem --shares 5 --threshold 3 --out-dir ./shares
package main
