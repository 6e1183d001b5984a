// Package envelope implements the versioned binary container that carries a
// sealed artifact.
//
// Layout (all integers big-endian):
//
//	[u32 format version]
//	[u32 wrapped key length][wrapped key]
//	[u32 nonce length][nonce]
//	[u32 tag length][tag]
//	[u64 ciphertext length][ciphertext]
//	[u32 metadata length][metadata JSON {"originalName","size"}]
//
// The version is read and checked before anything else. The metadata is
// plaintext but is authenticated as AEAD associated data together with the
// version, so it cannot be altered without failing the unseal.
package envelope

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cloq-dev/cloq/cryptoutils"
	"github.com/cloq-dev/cloq/interfaces"
)

// FormatVersion is the only envelope version this package reads or writes.
const FormatVersion uint32 = 1

// MaxMetadataSize bounds the plaintext header.
const MaxMetadataSize = 64 << 10

// Metadata is the plaintext descriptive header of an envelope.
type Metadata struct {
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
}

// Envelope is an immutable sealed artifact. Byte slices returned by
// Deserialize share memory with the input buffer.
type Envelope struct {
	Version    uint32
	WrappedKey []byte
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
	Metadata   Metadata

	rawMetadata []byte
}

// New prepares an envelope for the given metadata. The metadata encoding is
// fixed here so that AssociatedData is known before encryption.
func New(meta Metadata) (*Envelope, error) {
	if meta.Size < 0 {
		return nil, fmt.Errorf("negative payload size %d", meta.Size)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if len(raw) > MaxMetadataSize {
		return nil, fmt.Errorf("metadata exceeds %d bytes", MaxMetadataSize)
	}
	return &Envelope{
		Version:     FormatVersion,
		Metadata:    meta,
		rawMetadata: raw,
	}, nil
}

// MetadataBytes returns the exact metadata encoding carried on the wire.
func (e *Envelope) MetadataBytes() []byte {
	return e.rawMetadata
}

// AssociatedData returns version || metadata, the bytes authenticated by the
// symmetric cipher alongside the ciphertext.
func (e *Envelope) AssociatedData() []byte {
	ad := make([]byte, 4, 4+len(e.rawMetadata))
	binary.BigEndian.PutUint32(ad, e.Version)
	return append(ad, e.rawMetadata...)
}

// Serialize encodes e in the binary layout.
func Serialize(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	if e.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", e.Version)
	}
	if len(e.WrappedKey) == 0 {
		return nil, fmt.Errorf("missing wrapped key")
	}
	if len(e.Nonce) != cryptoutils.NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", cryptoutils.NonceSize, len(e.Nonce))
	}
	if len(e.Tag) != cryptoutils.TagSize {
		return nil, fmt.Errorf("tag must be %d bytes, got %d", cryptoutils.TagSize, len(e.Tag))
	}
	if e.rawMetadata == nil {
		return nil, fmt.Errorf("envelope metadata not initialized")
	}
	if uint64(len(e.WrappedKey)) > math.MaxUint32 || len(e.rawMetadata) > MaxMetadataSize {
		return nil, fmt.Errorf("envelope field too large")
	}

	size := 4 + 4 + len(e.WrappedKey) + 4 + len(e.Nonce) + 4 + len(e.Tag) +
		8 + len(e.Ciphertext) + 4 + len(e.rawMetadata)
	out := make([]byte, 0, size)

	out = binary.BigEndian.AppendUint32(out, e.Version)
	out = appendField32(out, e.WrappedKey)
	out = appendField32(out, e.Nonce)
	out = appendField32(out, e.Tag)
	out = binary.BigEndian.AppendUint64(out, uint64(len(e.Ciphertext)))
	out = append(out, e.Ciphertext...)
	out = appendField32(out, e.rawMetadata)
	return out, nil
}

func appendField32(out, field []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(field)))
	return append(out, field...)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", interfaces.ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) take(n uint64, what string) ([]byte, error) {
	if n > uint64(c.remaining()) {
		return nil, malformed("%s length %d overruns buffer", what, n)
	}
	b := c.buf[c.off : c.off+int(n) : c.off+int(n)]
	c.off += int(n)
	return b, nil
}

func (c *cursor) uint32(what string) (uint32, error) {
	b, err := c.take(4, what+" length prefix")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) field32(what string) ([]byte, error) {
	n, err := c.uint32(what)
	if err != nil {
		return nil, err
	}
	return c.take(uint64(n), what)
}

// Deserialize parses envelope bytes. Any structural problem, including an
// unknown version, a length prefix that overruns the buffer, trailing bytes,
// wrong nonce or tag sizes, or undecodable metadata, yields
// interfaces.ErrMalformedEnvelope.
func Deserialize(data []byte) (*Envelope, error) {
	c := &cursor{buf: data}

	version, err := c.uint32("version")
	if err != nil {
		return nil, malformed("truncated version")
	}
	if version != FormatVersion {
		return nil, malformed("unsupported format version %d", version)
	}

	e := &Envelope{Version: version}
	if e.WrappedKey, err = c.field32("wrapped key"); err != nil {
		return nil, err
	}
	if len(e.WrappedKey) == 0 {
		return nil, malformed("empty wrapped key")
	}
	if e.Nonce, err = c.field32("nonce"); err != nil {
		return nil, err
	}
	if len(e.Nonce) != cryptoutils.NonceSize {
		return nil, malformed("nonce must be %d bytes, got %d", cryptoutils.NonceSize, len(e.Nonce))
	}
	if e.Tag, err = c.field32("tag"); err != nil {
		return nil, err
	}
	if len(e.Tag) != cryptoutils.TagSize {
		return nil, malformed("tag must be %d bytes, got %d", cryptoutils.TagSize, len(e.Tag))
	}

	ctLen, err := c.take(8, "ciphertext length prefix")
	if err != nil {
		return nil, err
	}
	if e.Ciphertext, err = c.take(binary.BigEndian.Uint64(ctLen), "ciphertext"); err != nil {
		return nil, err
	}

	if e.rawMetadata, err = c.field32("metadata"); err != nil {
		return nil, err
	}
	if len(e.rawMetadata) > MaxMetadataSize {
		return nil, malformed("metadata exceeds %d bytes", MaxMetadataSize)
	}
	if c.remaining() != 0 {
		return nil, malformed("%d trailing bytes", c.remaining())
	}

	if err := json.Unmarshal(e.rawMetadata, &e.Metadata); err != nil {
		return nil, malformed("invalid metadata: %v", err)
	}
	if e.Metadata.Size < 0 {
		return nil, malformed("negative payload size")
	}
	return e, nil
}

// Header is the non-secret view of an envelope.
type Header struct {
	Version          uint32   `json:"version"`
	Metadata         Metadata `json:"metadata"`
	WrappedKeySize   int      `json:"wrappedKeySize"`
	CiphertextSize   int      `json:"ciphertextSize"`
	TotalSize        int      `json:"totalSize"`
	RecipientKeyBits int      `json:"recipientKeyBits"`
}

// PeekHeader fully validates the structure of data and returns its plaintext
// header. It never needs or touches key material.
func PeekHeader(data []byte) (*Header, error) {
	e, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	return &Header{
		Version:          e.Version,
		Metadata:         e.Metadata,
		WrappedKeySize:   len(e.WrappedKey),
		CiphertextSize:   len(e.Ciphertext),
		TotalSize:        len(data),
		RecipientKeyBits: len(e.WrappedKey) * 8,
	}, nil
}
