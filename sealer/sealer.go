// Package sealer orchestrates sealing a source tree into an envelope for a
// recipient public key, and unsealing an envelope back into a directory.
package sealer

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cloq-dev/cloq/bundle"
	"github.com/cloq-dev/cloq/cryptoutils"
	"github.com/cloq-dev/cloq/envelope"
	"github.com/cloq-dev/cloq/interfaces"
)

// UnsealError is returned by every unseal failure. Its message is always the
// same generic text; the typed cause stays reachable through errors.Is and
// errors.As for programmatic callers.
type UnsealError struct {
	cause error
}

// ErrUnsealMessage is the only text shown to users for any unseal failure.
const ErrUnsealMessage = "cannot unseal artifact"

func (e *UnsealError) Error() string { return ErrUnsealMessage }

func (e *UnsealError) Unwrap() error { return e.cause }

func unsealFailure(err error) error {
	return &UnsealError{cause: err}
}

// Options adjust how a payload is described in the envelope header.
type Options struct {
	// Name overrides the originalName recorded in the header. It defaults to
	// the base name of the source path.
	Name string
	// HideName records an empty originalName.
	HideName bool
}

// Sealer seals and unseals artifacts. It holds no mutable state and is safe
// for concurrent use.
type Sealer struct {
	rand io.Reader
	log  *slog.Logger
}

// New creates a Sealer reading all key and nonce material from rand.
func New(rand io.Reader, log *slog.Logger) *Sealer {
	if log == nil {
		log = slog.Default()
	}
	return &Sealer{rand: rand, log: log}
}

// Seal bundles sourcePath (a directory or a single file) and seals it for pub.
// No partial envelope is ever returned.
func (s *Sealer) Seal(sourcePath string, pub *rsa.PublicKey, opts Options) ([]byte, error) {
	start := time.Now()

	payload, err := bundle.Pack(sourcePath)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(sourcePath))
	}
	if opts.HideName {
		name = ""
	}

	out, err := s.SealPayload(payload, name, pub)
	if err != nil {
		return nil, err
	}

	s.log.Debug("Sealed artifact",
		slog.Int("payload_size", len(payload)),
		slog.Int("envelope_size", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// SealPayload seals an already bundled payload.
func (s *Sealer) SealPayload(payload []byte, name string, pub *rsa.PublicKey) ([]byte, error) {
	env, err := envelope.New(envelope.Metadata{OriginalName: name, Size: int64(len(payload))})
	if err != nil {
		return nil, err
	}

	key, err := cryptoutils.NewContentKey(s.rand)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	nonce, ciphertext, tag, err := cryptoutils.Encrypt(s.rand, key, payload, env.AssociatedData())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	wrapped, err := cryptoutils.WrapKey(s.rand, pub, key)
	key.Zero()
	if err != nil {
		return nil, err
	}

	env.WrappedKey = wrapped
	env.Nonce = nonce
	env.Tag = tag
	env.Ciphertext = ciphertext

	return envelope.Serialize(env)
}

// Open authenticates and decrypts envelope bytes entirely in memory and
// returns the bundled payload with the envelope header. Nothing touches the
// filesystem.
func (s *Sealer) Open(envelopeBytes []byte, priv *rsa.PrivateKey) ([]byte, *envelope.Envelope, error) {
	env, err := envelope.Deserialize(envelopeBytes)
	if err != nil {
		return nil, nil, unsealFailure(err)
	}

	key, err := cryptoutils.UnwrapKey(priv, env.WrappedKey)
	if err != nil {
		return nil, nil, unsealFailure(err)
	}
	defer key.Zero()

	payload, err := cryptoutils.Decrypt(key, env.Nonce, env.Ciphertext, env.Tag, env.AssociatedData())
	if err != nil {
		return nil, nil, unsealFailure(err)
	}
	if int64(len(payload)) != env.Metadata.Size {
		return nil, nil, unsealFailure(fmt.Errorf("%w: payload size does not match header", interfaces.ErrMalformedEnvelope))
	}
	return payload, env, nil
}

// Unseal opens envelopeBytes and materializes the bundle under destPath.
// Decryption completes before anything is written, and the bundle is fully
// validated before the first write. Any failure is an *UnsealError.
func (s *Sealer) Unseal(envelopeBytes []byte, priv *rsa.PrivateKey, destPath string) error {
	start := time.Now()

	payload, env, err := s.Open(envelopeBytes, priv)
	if err != nil {
		s.logFailure(err)
		return err
	}

	if err := bundle.Unpack(payload, destPath); err != nil {
		s.logFailure(err)
		return unsealFailure(err)
	}

	s.log.Debug("Unsealed artifact",
		slog.String("original_name", env.Metadata.OriginalName),
		slog.Int64("payload_size", env.Metadata.Size),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Verify authenticates and decrypts envelopeBytes and validates the bundle
// without writing anything, returning the bundle entries.
func (s *Sealer) Verify(envelopeBytes []byte, priv *rsa.PrivateKey) ([]bundle.Entry, *envelope.Envelope, error) {
	payload, env, err := s.Open(envelopeBytes, priv)
	if err != nil {
		return nil, nil, err
	}
	entries, err := bundle.List(payload)
	if err != nil {
		return nil, nil, unsealFailure(err)
	}
	return entries, env, nil
}

// logFailure records the failure class at debug level only; the cause is
// never shown at higher levels.
func (s *Sealer) logFailure(err error) {
	var class string
	switch {
	case errors.Is(err, interfaces.ErrMalformedEnvelope):
		class = "malformed_envelope"
	case errors.Is(err, interfaces.ErrUnwrapFailure):
		class = "unwrap_failure"
	case errors.Is(err, interfaces.ErrAuthenticationFailure):
		class = "authentication_failure"
	case errors.Is(err, interfaces.ErrInvalidBundle):
		class = "invalid_bundle"
	default:
		class = "io"
	}
	s.log.Debug("Unseal failed", slog.String("class", class))
}
