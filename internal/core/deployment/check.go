package deployment

import (
	"fmt"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// =============================================================================
// Preflight Check
// =============================================================================

// DepIndex lists what a transaction's cell deps make loadable: the data hash
// of every dep cell and the script hash of every dep cell's type script.
type DepIndex struct {
	DataHashes map[ledger.Hash]bool
	TypeHashes map[ledger.Hash]bool
}

// NewDepIndex creates an empty index.
func NewDepIndex() DepIndex {
	return DepIndex{
		DataHashes: make(map[ledger.Hash]bool),
		TypeHashes: make(map[ledger.Hash]bool),
	}
}

// AddCell records a dep cell's data and type script.
func (d DepIndex) AddCell(data []byte, typ *ledger.Script) {
	d.DataHashes[ledger.Blake256(data)] = true
	if typ != nil {
		d.TypeHashes[typ.Hash()] = true
	}
}

// CheckOutputs verifies that every output type script of tx can be loaded
// from the index. The built-in Type ID script is always available.
func CheckOutputs(tx *ledger.Transaction, deps DepIndex) error {
	for i, out := range tx.Outputs {
		if out.Type == nil {
			continue
		}
		code := out.Type.CodeHash
		switch {
		case out.Type.HashType == ledger.HashTypeType:
			if code == ledger.TypeIDCodeHash || deps.TypeHashes[code] {
				continue
			}
			return domain.NewConfigError("preflight_check", fmt.Sprintf("output %d", i),
				fmt.Sprintf("type hash %s is not provided by any cell dep", code))
		case out.Type.HashType.IsData():
			if deps.DataHashes[code] {
				continue
			}
			return domain.NewConfigError("preflight_check", fmt.Sprintf("output %d", i),
				fmt.Sprintf("data hash %s is not provided by any cell dep", code))
		default:
			return domain.NewConfigError("preflight_check", fmt.Sprintf("output %d", i),
				fmt.Sprintf("unknown hash type %d", out.Type.HashType))
		}
	}
	return nil
}
