package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// =============================================================================
// Molecule Encoding
// =============================================================================
//
// The ledger hashes the molecule encoding of its structures, so these helpers
// must stay byte-exact:
//   - struct: fields concatenated, no header
//   - fixvec: u32 item count, then the fixed-size items
//   - dynvec / table: u32 total size, u32 offset per item, then the items
//   - option: empty for none, the inner encoding for some

// ErrMalformedMolecule is returned when decoding bytes that do not follow the
// molecule layout.
var ErrMalformedMolecule = errors.New("malformed molecule data")

func serializeFixVec(items [][]byte) []byte {
	out := packUint32(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func serializeBytes(b []byte) []byte {
	out := packUint32(uint32(len(b)))
	return append(out, b...)
}

// serializeDynVec encodes items as a dynvec. Tables share the same layout, so
// serializeTable is an alias.
func serializeDynVec(items [][]byte) []byte {
	headerSize := 4 + 4*len(items)
	total := headerSize
	for _, item := range items {
		total += len(item)
	}

	out := make([]byte, 0, total)
	out = append(out, packUint32(uint32(total))...)
	offset := headerSize
	for _, item := range items {
		out = append(out, packUint32(uint32(offset))...)
		offset += len(item)
	}
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func serializeTable(fields [][]byte) []byte {
	return serializeDynVec(fields)
}

func serializeBytesVec(items [][]byte) []byte {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		encoded[i] = serializeBytes(item)
	}
	return serializeDynVec(encoded)
}

// serializeBytesOpt encodes an optional Bytes field. A nil slice is "none",
// any non-nil slice (including empty) is "some".
func serializeBytesOpt(b []byte) []byte {
	if b == nil {
		return nil
	}
	return serializeBytes(b)
}

// =============================================================================
// Decoding
// =============================================================================

// decodeTableFields splits a table (or dynvec) into its raw items.
func decodeTableFields(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: header too short", ErrMalformedMolecule)
	}
	total := int(binary.LittleEndian.Uint32(data))
	if total != len(data) {
		return nil, fmt.Errorf("%w: total size %d, have %d bytes", ErrMalformedMolecule, total, len(data))
	}
	if total == 4 {
		return nil, nil
	}
	if total < 8 {
		return nil, fmt.Errorf("%w: truncated offsets", ErrMalformedMolecule)
	}
	first := int(binary.LittleEndian.Uint32(data[4:]))
	if first%4 != 0 || first < 8 || first > total {
		return nil, fmt.Errorf("%w: bad first offset %d", ErrMalformedMolecule, first)
	}
	count := first/4 - 1
	offsets := make([]int, count+1)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	offsets[count] = total

	items := make([][]byte, count)
	for i := 0; i < count; i++ {
		if offsets[i] > offsets[i+1] {
			return nil, fmt.Errorf("%w: offsets not ascending", ErrMalformedMolecule)
		}
		items[i] = data[offsets[i]:offsets[i+1]]
	}
	return items, nil
}

func decodeBytes(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: bytes header too short", ErrMalformedMolecule)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+n {
		return nil, fmt.Errorf("%w: bytes length %d, have %d", ErrMalformedMolecule, n, len(data)-4)
	}
	return data[4:], nil
}
