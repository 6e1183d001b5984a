package cryptoutils

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultKeyBits is the modulus size used for new enterprise keypairs.
	DefaultKeyBits = 4096
	// MinKeyBits is the smallest modulus accepted for wrapping or generation.
	MinKeyBits = 2048
)

var ErrKeyTooSmall = fmt.Errorf("RSA key must be at least %d bits", MinKeyBits)

func checkKeySize(pub *rsa.PublicKey) error {
	if pub == nil || pub.N == nil {
		return errors.New("missing public key")
	}
	if pub.N.BitLen() < MinKeyBits {
		return ErrKeyTooSmall
	}
	return nil
}

// GenerateKeypair creates an RSA keypair of the given size using rand.
func GenerateKeypair(rand io.Reader, bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, ErrKeyTooSmall
	}
	priv, err := rsa.GenerateKey(rand, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return priv, nil
}

// RecipientPubkey represents an enterprise public key in PEM (PKIX) format.
type RecipientPubkey []byte

// NewRecipientPubkey creates a public key object from PEM-encoded data with validation.
func NewRecipientPubkey(data []byte) (RecipientPubkey, error) {
	if _, err := RecipientPubkey(data).PublicKey(); err != nil {
		return nil, err
	}
	return RecipientPubkey(data), nil
}

// NewRecipientPubkeyFromKey encodes pub as PEM.
func NewRecipientPubkeyFromKey(pub *rsa.PublicKey) (RecipientPubkey, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Validate checks if the public key is properly formed.
func (k RecipientPubkey) Validate() error {
	_, err := k.PublicKey()
	return err
}

// PublicKey returns the parsed RSA public key.
func (k RecipientPubkey) PublicKey() (*rsa.PublicKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("invalid public key: not in PEM format")
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key structure: %w", err)
		}
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid public key: not an RSA key")
		}
		pub = rsaPub
	case "RSA PUBLIC KEY":
		parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key structure: %w", err)
		}
		pub = parsed
	default:
		return nil, fmt.Errorf("invalid public key: unexpected PEM type %q", block.Type)
	}

	if err := checkKeySize(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// Fingerprint returns the hex SHA-256 of the PKIX encoding of the key.
func (k RecipientPubkey) Fingerprint() (string, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return "", err
	}
	return Fingerprint(pub)
}

// Fingerprint returns the hex SHA-256 of the PKIX encoding of pub.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// RecipientPrivkey represents an enterprise private key in PEM (PKCS#8) format.
// It must never be logged or written into an artifact.
type RecipientPrivkey []byte

// NewRecipientPrivkey creates a private key object from PEM-encoded data with validation.
func NewRecipientPrivkey(data []byte) (RecipientPrivkey, error) {
	if _, err := RecipientPrivkey(data).PrivateKey(); err != nil {
		return nil, err
	}
	return RecipientPrivkey(data), nil
}

// NewRecipientPrivkeyFromKey encodes priv as PKCS#8 PEM.
func NewRecipientPrivkeyFromKey(priv *rsa.PrivateKey) (RecipientPrivkey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// Validate checks if the private key is properly formed.
func (k RecipientPrivkey) Validate() error {
	_, err := k.PrivateKey()
	return err
}

// PrivateKey returns the parsed RSA private key.
func (k RecipientPrivkey) PrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("invalid private key: not in PEM format")
	}

	var priv *rsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid private key structure: %w", err)
		}
		rsaPriv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid private key: not an RSA key")
		}
		priv = rsaPriv
	case "RSA PRIVATE KEY":
		parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid private key structure: %w", err)
		}
		priv = parsed
	case encryptedPrivkeyPEMType:
		return nil, ErrPassphraseRequired
	default:
		return nil, fmt.Errorf("invalid private key: unexpected PEM type %q", block.Type)
	}

	if err := checkKeySize(&priv.PublicKey); err != nil {
		return nil, err
	}
	return priv, nil
}

// GetPublicKey derives the matching public key in PEM format.
func (k RecipientPrivkey) GetPublicKey() (RecipientPubkey, error) {
	priv, err := k.PrivateKey()
	if err != nil {
		return nil, err
	}
	return NewRecipientPubkeyFromKey(&priv.PublicKey)
}
