package cryptoutils

import (
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloq-dev/cloq/interfaces"
)

// WrapKey encrypts a content key to the recipient with RSA-OAEP (SHA-256 for
// both the hash and MGF1, empty label).
func WrapKey(rand io.Reader, pub *rsa.PublicKey, key ContentKey) ([]byte, error) {
	if len(key) != ContentKeySize {
		return nil, ErrInvalidKeySize
	}
	if err := checkKeySize(pub); err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey recovers a content key. Every failure collapses into
// ErrUnwrapFailure so callers learn nothing about why it failed.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) (ContentKey, error) {
	if priv == nil {
		return nil, interfaces.ErrUnwrapFailure
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, interfaces.ErrUnwrapFailure
	}
	if len(key) != ContentKeySize {
		clear(key)
		return nil, interfaces.ErrUnwrapFailure
	}
	return ContentKey(key), nil
}
