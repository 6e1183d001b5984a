package storage

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/zeebo/blake3"
)

const checksumPrefix = "blake3:"

// Checksum returns the transport-integrity digest of envelope bytes. It
// protects against storage and transfer corruption only; authenticity comes
// from the envelope's AEAD tag.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum compares data against a checksum produced by Checksum.
func VerifyChecksum(data []byte, want string) error {
	if !strings.HasPrefix(want, checksumPrefix) {
		return fmt.Errorf("%w: unsupported checksum %q", interfaces.ErrChecksumMismatch, want)
	}
	got := Checksum(data)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return interfaces.ErrChecksumMismatch
	}
	return nil
}

// objectName is the key every backend stores an artifact under.
func objectName(id interfaces.ArtifactID) (string, error) {
	clean, err := interfaces.ParseArtifactID(string(id))
	if err != nil {
		return "", err
	}
	return clean.String() + ".cloq", nil
}
