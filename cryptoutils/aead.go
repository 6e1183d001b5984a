package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/cloq-dev/cloq/interfaces"
)

const (
	// ContentKeySize is the AES-256 key length in bytes.
	ContentKeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrInvalidKeySize is returned when a content key is not ContentKeySize bytes.
var ErrInvalidKeySize = errors.New("invalid content key size")

// ContentKey is a one-time symmetric key. Callers must Zero it once it has
// been wrapped or used.
type ContentKey []byte

// NewContentKey reads a fresh key from rand.
func NewContentKey(rand io.Reader) (ContentKey, error) {
	key := make(ContentKey, ContentKeySize)
	if _, err := io.ReadFull(rand, key); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	return key, nil
}

// Zero overwrites the key material in place.
func (k ContentKey) Zero() {
	clear(k)
}

func newGCM(key ContentKey) (cipher.AEAD, error) {
	if len(key) != ContentKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with AES-256-GCM. A fresh nonce is read
// from rand on every call. The tag is returned separately from the ciphertext.
// aad is authenticated but not encrypted and may be nil.
func Encrypt(rand io.Reader, key ContentKey, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return nonce, sealed[:split:split], sealed[split:], nil
}

// Decrypt verifies tag and returns the plaintext. On any verification failure
// it returns ErrAuthenticationFailure and no output.
func Decrypt(key ContentKey, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, interfaces.ErrAuthenticationFailure
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, interfaces.ErrAuthenticationFailure
	}
	return plaintext, nil
}
