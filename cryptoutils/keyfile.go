package cryptoutils

import (
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const encryptedPrivkeyPEMType = "CLOQ ENCRYPTED PRIVATE KEY"

var (
	ErrPassphraseRequired = errors.New("private key is passphrase protected")
	ErrWrongPassphrase    = errors.New("wrong passphrase or corrupted key file")
)

// KDFParams are the Argon2id cost parameters recorded in an encrypted key file.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams: time=1, memory=64*1024, threads=4
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

func (p KDFParams) String() string {
	return fmt.Sprintf("t=%d,m=%d,p=%d", p.Time, p.Memory, p.Threads)
}

func parseKDFParams(s string) (KDFParams, error) {
	var p KDFParams
	for _, field := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return p, fmt.Errorf("invalid KDF parameter %q", field)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return p, fmt.Errorf("invalid KDF parameter %q: %w", field, err)
		}
		switch k {
		case "t":
			p.Time = uint32(n)
		case "m":
			p.Memory = uint32(n)
		case "p":
			if n == 0 || n > 255 {
				return p, fmt.Errorf("invalid KDF parallelism %d", n)
			}
			p.Threads = uint8(n)
		default:
			return p, fmt.Errorf("unknown KDF parameter %q", k)
		}
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return p, errors.New("incomplete KDF parameters")
	}
	return p, nil
}

func deriveKeyFileKey(passphrase, salt []byte, p KDFParams) ContentKey {
	return ContentKey(argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, ContentKeySize))
}

// IsEncryptedPrivkey reports whether data is a passphrase-protected key file.
func IsEncryptedPrivkey(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil && block.Type == encryptedPrivkeyPEMType
}

// EncryptPrivkey protects a private key with a passphrase-derived key
// (Argon2id + AES-256-GCM) and returns it as a PEM block.
func EncryptPrivkey(rand io.Reader, key RecipientPrivkey, passphrase []byte, params KDFParams) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("invalid private key: not in PEM format")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	kek := deriveKeyFileKey(passphrase, salt, params)
	defer kek.Zero()

	nonce, ciphertext, tag, err := Encrypt(rand, kek, block.Bytes, []byte(block.Type))
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(nonce)+len(ciphertext)+len(tag))
	body = append(body, nonce...)
	body = append(body, ciphertext...)
	body = append(body, tag...)

	return pem.EncodeToMemory(&pem.Block{
		Type: encryptedPrivkeyPEMType,
		Headers: map[string]string{
			"KDF":       "argon2id",
			"KDF-Param": params.String(),
			"Salt":      hex.EncodeToString(salt),
			"Key-Type":  block.Type,
		},
		Bytes: body,
	}), nil
}

// DecryptPrivkey opens a key file produced by EncryptPrivkey.
func DecryptPrivkey(data []byte, passphrase []byte) (RecipientPrivkey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != encryptedPrivkeyPEMType {
		return nil, errors.New("not an encrypted private key file")
	}
	if block.Headers["KDF"] != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF %q", block.Headers["KDF"])
	}
	params, err := parseKDFParams(block.Headers["KDF-Param"])
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) == 0 {
		return nil, errors.New("invalid salt in key file")
	}
	keyType := block.Headers["Key-Type"]
	if len(block.Bytes) < NonceSize+TagSize {
		return nil, ErrWrongPassphrase
	}

	kek := deriveKeyFileKey(passphrase, salt, params)
	defer kek.Zero()

	body := block.Bytes
	nonce := body[:NonceSize]
	ciphertext := body[NonceSize : len(body)-TagSize]
	tag := body[len(body)-TagSize:]

	der, err := Decrypt(kek, nonce, ciphertext, tag, []byte(keyType))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer clear(der)

	return NewRecipientPrivkey(pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: der}))
}

// LoadPrivkey parses a key file, decrypting it when it is passphrase protected.
// passphrase may be nil for plain key files.
func LoadPrivkey(data []byte, passphrase []byte) (RecipientPrivkey, error) {
	if IsEncryptedPrivkey(data) {
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		return DecryptPrivkey(data, passphrase)
	}
	return NewRecipientPrivkey(data)
}
