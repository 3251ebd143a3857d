package domain

import (
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// =============================================================================
// Declared Specs
// =============================================================================

// Payload is the content of a declared cell: either inline data (usually a
// compiled binary read from Path) or a reference to a cell that already lives
// on the ledger. Exactly one of Data and Ref is meaningful.
type Payload struct {
	Data []byte
	Ref  *ledger.OutPoint
	Path string
}

// IsReference reports whether the payload points at an existing on-chain cell.
func (p Payload) IsReference() bool {
	return p.Ref != nil
}

// CellSpec is a declared cell to deploy.
type CellSpec struct {
	Name            string
	Payload         Payload
	IdentityEnabled bool
}

// DataHash returns the ledger hash of the inline payload.
func (c CellSpec) DataHash() ledger.Hash {
	return ledger.Blake256(c.Payload.Data)
}

// DepGroupSpec is a declared dependency group. Members are CellSpec names.
type DepGroupSpec struct {
	Name    string
	Members []string
}

// =============================================================================
// Records
// =============================================================================

// CellRecord is the recorded result of deploying a cell.
type CellRecord struct {
	Name             string
	TxHash           ledger.Hash
	Index            uint32
	DataHash         ledger.Hash
	OccupiedCapacity uint64
	IdentityHash     *ledger.Hash
}

// OutPoint returns the on-chain coordinates of the recorded cell.
func (r CellRecord) OutPoint() ledger.OutPoint {
	return ledger.OutPoint{TxHash: r.TxHash, Index: r.Index}
}

// DepGroupRecord is the recorded result of deploying a dependency group.
type DepGroupRecord struct {
	Name             string
	TxHash           ledger.Hash
	Index            uint32
	OccupiedCapacity uint64
}

// OutPoint returns the on-chain coordinates of the recorded dep group.
func (r DepGroupRecord) OutPoint() ledger.OutPoint {
	return ledger.OutPoint{TxHash: r.TxHash, Index: r.Index}
}

// DeploymentRecipe is the full recorded state of one deployment target.
type DeploymentRecipe struct {
	CellRecords     []CellRecord
	DepGroupRecords []DepGroupRecord
}

// IsEmpty reports whether the recipe records nothing.
func (r DeploymentRecipe) IsEmpty() bool {
	return len(r.CellRecords) == 0 && len(r.DepGroupRecords) == 0
}

// Cell finds a cell record by name.
func (r DeploymentRecipe) Cell(name string) (CellRecord, bool) {
	for _, c := range r.CellRecords {
		if c.Name == name {
			return c, true
		}
	}
	return CellRecord{}, false
}

// DepGroup finds a dep group record by name.
func (r DeploymentRecipe) DepGroup(name string) (DepGroupRecord, bool) {
	for _, g := range r.DepGroupRecords {
		if g.Name == name {
			return g, true
		}
	}
	return DepGroupRecord{}, false
}

// =============================================================================
// Live Cells
// =============================================================================

// LiveCellRef is an allocation found on the ledger.
type LiveCellRef struct {
	OutPoint  ledger.OutPoint
	Capacity  uint64
	Spendable bool
}

// PriorCell is a previously recorded cell or dep group together with what the
// ledger currently holds at its coordinates.
type PriorCell struct {
	Name     string
	Ref      LiveCellRef
	Type     *ledger.Script
	DataHash ledger.Hash
}

// PriorCells maps a recorded name to its live state.
type PriorCells map[string]PriorCell

// =============================================================================
// Baked Transactions
// =============================================================================

// BuiltTx is one planned transaction together with the prior allocations it
// spends. Reused inputs are migrated cells, Funding inputs come from the
// wallet. The first Deployed outputs are cells or dep groups; any output after
// them is change.
type BuiltTx struct {
	Tx       *ledger.Transaction
	Reused   []LiveCellRef
	Funding  []LiveCellRef
	Deployed int
}

// Hash returns the transaction hash.
func (b *BuiltTx) Hash() ledger.Hash {
	return b.Tx.Hash()
}

// ReusedCapacity sums the capacity of the migrated inputs.
func (b *BuiltTx) ReusedCapacity() uint64 {
	var total uint64
	for _, r := range b.Reused {
		total += r.Capacity
	}
	return total
}

// BakedTransaction is the output of a planning pass. A nil member means that
// class had nothing to deploy.
type BakedTransaction struct {
	Cells     *BuiltTx
	DepGroups *BuiltTx
}

// IsEmpty reports whether no transaction was built.
func (b BakedTransaction) IsEmpty() bool {
	return b.Cells == nil && b.DepGroups == nil
}

// Transactions lists the built transactions in broadcast order.
func (b BakedTransaction) Transactions() []*BuiltTx {
	var txs []*BuiltTx
	if b.Cells != nil {
		txs = append(txs, b.Cells)
	}
	if b.DepGroups != nil {
		txs = append(txs, b.DepGroups)
	}
	return txs
}
