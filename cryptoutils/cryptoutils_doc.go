// Package cryptoutils provides the cryptographic primitives used to seal and
// unseal artifacts.
//
// A sealed artifact uses hybrid encryption:
//
//   - AES-256-GCM with a fresh one-time ContentKey and a 96-bit random nonce
//     encrypts the payload (Encrypt / Decrypt)
//   - RSA-OAEP with SHA-256 wraps the ContentKey to the recipient's public key
//     (WrapKey / UnwrapKey)
//
// Randomness is always supplied by the caller as an io.Reader so that
// production code can pass crypto/rand.Reader and tests can pass a
// deterministic or failing source.
//
// # Key Handles
//
// RecipientPubkey and RecipientPrivkey are PEM-encoded key newtypes with
// validation helpers. Private keys may be stored passphrase-protected
// (EncryptPrivkey / DecryptPrivkey, Argon2id + AES-256-GCM) and can be escrowed
// among several custodians with Shamir's Secret Sharing (SplitPrivkey /
// CombinePrivkey).
//
// # Failure Semantics
//
// Decrypt returns interfaces.ErrAuthenticationFailure and never any plaintext
// when the tag does not verify. UnwrapKey collapses every failure into
// interfaces.ErrUnwrapFailure.
package cryptoutils
