package cryptoutils

import (
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/vault/shamir"
)

const keySharePEMType = "CLOQ KEY SHARE"

// SplitPrivkey splits an enterprise private key into parts shares using
// Shamir's Secret Sharing, any threshold of which reconstruct it. Each share
// is returned as a PEM block carrying the public key fingerprint so that
// shares of different keys cannot be mixed silently.
func SplitPrivkey(key RecipientPrivkey, parts, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	priv, err := key.PrivateKey()
	if err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	pemKey, err := NewRecipientPrivkeyFromKey(priv)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemKey)

	shares, err := shamir.Split(block.Bytes, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split private key: %w", err)
	}

	out := make([][]byte, 0, len(shares))
	for i, share := range shares {
		out = append(out, pem.EncodeToMemory(&pem.Block{
			Type: keySharePEMType,
			Headers: map[string]string{
				"Fingerprint": fingerprint,
				"Threshold":   strconv.Itoa(threshold),
				"Index":       strconv.Itoa(i + 1),
			},
			Bytes: share,
		}))
		clear(share)
	}
	return out, nil
}

// CombinePrivkey reconstructs a private key from PEM-encoded shares produced
// by SplitPrivkey. It fails if the shares disagree on the key fingerprint, if
// fewer than the recorded threshold are supplied, or if the result does not
// match the fingerprint.
func CombinePrivkey(pemShares [][]byte) (RecipientPrivkey, error) {
	if len(pemShares) < 2 {
		return nil, errors.New("at least two shares are required")
	}

	var fingerprint string
	threshold := 0
	raw := make([][]byte, 0, len(pemShares))
	for i, data := range pemShares {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != keySharePEMType {
			return nil, fmt.Errorf("share %d: not a key share", i+1)
		}
		fp := block.Headers["Fingerprint"]
		if fingerprint == "" {
			fingerprint = fp
			t, err := strconv.Atoi(block.Headers["Threshold"])
			if err != nil {
				return nil, fmt.Errorf("share %d: invalid threshold: %w", i+1, err)
			}
			threshold = t
		} else if fp != fingerprint {
			return nil, fmt.Errorf("share %d belongs to a different key", i+1)
		}
		raw = append(raw, block.Bytes)
	}

	if len(raw) < threshold {
		return nil, fmt.Errorf("need %d shares, got %d", threshold, len(raw))
	}

	der, err := shamir.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	defer clear(der)

	key, err := NewRecipientPrivkey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	if err != nil {
		return nil, fmt.Errorf("combined shares do not form a valid key: %w", err)
	}

	pub, err := key.GetPublicKey()
	if err != nil {
		return nil, err
	}
	got, err := pub.Fingerprint()
	if err != nil {
		return nil, err
	}
	if got != fingerprint {
		return nil, errors.New("combined key does not match share fingerprint")
	}
	return key, nil
}
