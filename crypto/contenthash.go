package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// HashScheme names the digest used to derive agreement identifiers from
// contract content.
type HashScheme string

const (
	SchemeKeccak256 HashScheme = "keccak256"
	SchemeSHA256    HashScheme = "sha256"
	SchemeBLAKE3    HashScheme = "blake3"
)

// ParseHashScheme normalises a configured scheme name. Empty selects keccak256.
func ParseHashScheme(value string) (HashScheme, error) {
	switch HashScheme(strings.ToLower(strings.TrimSpace(value))) {
	case "", SchemeKeccak256:
		return SchemeKeccak256, nil
	case SchemeSHA256:
		return SchemeSHA256, nil
	case SchemeBLAKE3:
		return SchemeBLAKE3, nil
	default:
		return "", fmt.Errorf("unsupported hash scheme %q", value)
	}
}

// ContentID derives the 256-bit agreement identifier for a title and body.
// The title is length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func ContentID(scheme HashScheme, title, body string) ([32]byte, error) {
	var out [32]byte
	preimage := make([]byte, 8, 8+len(title)+len(body))
	binary.BigEndian.PutUint64(preimage, uint64(len(title)))
	preimage = append(preimage, title...)
	preimage = append(preimage, body...)

	switch scheme {
	case "", SchemeKeccak256:
		copy(out[:], crypto.Keccak256(preimage))
	case SchemeSHA256:
		out = sha256.Sum256(preimage)
	case SchemeBLAKE3:
		out = blake3.Sum256(preimage)
	default:
		return out, fmt.Errorf("unsupported hash scheme %q", scheme)
	}
	return out, nil
}

// FormatID renders an identifier as 0x-prefixed lowercase hex.
func FormatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseID decodes a 32-byte identifier with or without the 0x prefix.
func ParseID(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return out, fmt.Errorf("identifier required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid identifier: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("identifier must be %d bytes", len(out))
	}
	copy(out[:], decoded)
	return out, nil
}
