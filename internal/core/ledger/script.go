package ledger

import (
	"bytes"
	"fmt"
	"strings"
)

// =============================================================================
// Script Hash Type
// =============================================================================

// HashType tells the ledger how to interpret a script's code hash.
type HashType byte

const (
	HashTypeData  HashType = 0
	HashTypeType  HashType = 1
	HashTypeData1 HashType = 2
	HashTypeData2 HashType = 4
)

// String returns the RPC name of the hash type.
func (t HashType) String() string {
	switch t {
	case HashTypeData:
		return "data"
	case HashTypeType:
		return "type"
	case HashTypeData1:
		return "data1"
	case HashTypeData2:
		return "data2"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Valid reports whether t is a hash type the ledger knows.
func (t HashType) Valid() bool {
	return t == HashTypeType || t.IsData()
}

// IsData reports whether the code hash refers to a data hash.
func (t HashType) IsData() bool {
	return t == HashTypeData || t == HashTypeData1 || t == HashTypeData2
}

// ParseHashType parses the RPC name of a hash type.
func ParseHashType(s string) (HashType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "data":
		return HashTypeData, nil
	case "type":
		return HashTypeType, nil
	case "data1":
		return HashTypeData1, nil
	case "data2":
		return HashTypeData2, nil
	default:
		return 0, fmt.Errorf("unknown script hash type %q", s)
	}
}

// =============================================================================
// Script
// =============================================================================

// Script is a lock or type script.
type Script struct {
	CodeHash Hash
	HashType HashType
	Args     []byte
}

// Serialize returns the molecule encoding of the script.
func (s Script) Serialize() []byte {
	return serializeTable([][]byte{
		s.CodeHash[:],
		{byte(s.HashType)},
		serializeBytes(s.Args),
	})
}

// Hash returns the script hash, the value other scripts use to reference it.
func (s Script) Hash() Hash {
	return Blake256(s.Serialize())
}

// OccupiedBytes is the number of bytes the script contributes to a cell's
// occupied capacity.
func (s Script) OccupiedBytes() uint64 {
	return HashSize + 1 + uint64(len(s.Args))
}

// Equal reports whether two scripts are identical.
func (s Script) Equal(o Script) bool {
	return s.CodeHash == o.CodeHash && s.HashType == o.HashType && bytes.Equal(s.Args, o.Args)
}

// Clone returns a deep copy of the script.
func (s Script) Clone() Script {
	c := s
	if s.Args != nil {
		c.Args = append([]byte(nil), s.Args...)
	}
	return c
}

// DecodeScript parses the molecule encoding of a script.
func DecodeScript(data []byte) (Script, error) {
	fields, err := decodeTableFields(data)
	if err != nil {
		return Script{}, err
	}
	if len(fields) != 3 || len(fields[0]) != HashSize || len(fields[1]) != 1 {
		return Script{}, fmt.Errorf("%w: not a script", ErrMalformedMolecule)
	}
	args, err := decodeBytes(fields[2])
	if err != nil {
		return Script{}, err
	}
	var s Script
	copy(s.CodeHash[:], fields[0])
	s.HashType = HashType(fields[1][0])
	s.Args = append([]byte{}, args...)
	return s, nil
}
