package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/minio/blake2b-simd"
)

// =============================================================================
// Hash Type
// =============================================================================

// HashSize is the length of every ledger hash in bytes.
const HashSize = 32

// ErrInvalidHash is returned when a hex string is not a 32-byte hash.
var ErrInvalidHash = errors.New("invalid hash")

// Hash is a 32-byte ledger hash (transaction hash, data hash, script hash).
type Hash [HashSize]byte

// String returns the 0x-prefixed lowercase hex form.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the hash as a slice.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// ParseHash parses a 64-character hex string, with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != HashSize*2 {
		return h, fmt.Errorf("%w: %q has %d hex chars, want %d", ErrInvalidHash, s, len(raw), HashSize*2)
	}
	if _, err := hex.Decode(h[:], []byte(raw)); err != nil {
		return h, fmt.Errorf("%w: %q: %v", ErrInvalidHash, s, err)
	}
	return h, nil
}

// MustParseHash is ParseHash for constants and tests. It panics on bad input.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HashFromBytes copies a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// =============================================================================
// Ledger Hash Function
// =============================================================================

// personalization is the blake2b personalization used by the ledger for every
// hash it computes (transaction hash, data hash, script hash, type id args).
var personalization = []byte("ckb-default-hash")

// NewHasher returns an incremental ledger hasher.
func NewHasher() hash.Hash {
	h, err := blake2b.New(&blake2b.Config{Size: HashSize, Person: personalization})
	if err != nil {
		// Only reachable with an invalid static config.
		panic(fmt.Sprintf("ledger: blake2b config: %v", err))
	}
	return h
}

// Blake256 hashes the concatenation of parts with the ledger hash function.
//
// Example:
//
//	dataHash := ledger.Blake256(binary)
//	typeArgs := ledger.Blake256(input.Serialize(), packUint64(index))
func Blake256(parts ...[]byte) Hash {
	h := NewHasher()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// =============================================================================
// Little-endian helpers
// =============================================================================

func packUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func packUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
