package ledger

// =============================================================================
// Type ID
// =============================================================================

// TypeIDCodeHash is the code hash of the built-in Type ID script. It is the
// ASCII string "TYPE_ID" right-aligned in 32 bytes.
var TypeIDCodeHash = MustParseHash("0x00000000000000000000000000000000000000000000000000545950455f4944")

// TypeIDScript returns the Type ID type script for the output at index of a
// transaction whose first input is firstInput. The args are
// blake256(firstInput molecule || index as u64 little-endian), which makes the
// identity unique across the ledger.
func TypeIDScript(firstInput CellInput, index uint64) Script {
	args := Blake256(firstInput.Serialize(), packUint64(index))
	return Script{
		CodeHash: TypeIDCodeHash,
		HashType: HashTypeType,
		Args:     args.Bytes(),
	}
}

// IsTypeIDScript reports whether s is a Type ID type script.
func IsTypeIDScript(s *Script) bool {
	return s != nil && s.CodeHash == TypeIDCodeHash && s.HashType == HashTypeType && len(s.Args) == HashSize
}
