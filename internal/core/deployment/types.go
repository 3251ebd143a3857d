package deployment

import (
	"context"

	"github.com/artpar/celldeploy/internal/core/diff"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// =============================================================================
// Collaborators
// =============================================================================

// Funder supplies what the builder cannot compute: the funding party's lock,
// the cell deps that lock needs, and spendable cells to pay for outputs.
type Funder interface {
	// ChangeLock is the lock of the funding party. Change is returned to it.
	ChangeLock() ledger.Script

	// LockDeps returns the cell deps required to unlock funding inputs.
	LockDeps(ctx context.Context) ([]ledger.CellDep, error)

	// CollectSpendable returns plain spendable cells (no type, no data) worth
	// at least min shannons in total, skipping every out-point in exclude.
	// It fails with an error wrapping domain.ErrCapacity when the funds are
	// not there.
	CollectSpendable(ctx context.Context, min uint64, exclude *ledger.OutPointSet) ([]domain.LiveCellRef, error)
}

// =============================================================================
// Parameters / Result
// =============================================================================

// Params contains all inputs for one planning pass.
type Params struct {
	// Lock guards every deployed cell and dep group.
	Lock ledger.Script

	// Fee is paid once per built transaction, in shannons.
	Fee uint64

	Cells     []domain.CellSpec
	DepGroups []domain.DepGroupSpec

	// Prior is the recipe of the last completed deployment. It is empty when
	// migration is off or nothing was deployed yet.
	Prior domain.DeploymentRecipe

	// PriorCells and PriorDepGroups are the live states of Prior's records,
	// keyed by name. Records whose transaction is gone are absent.
	PriorCells     domain.PriorCells
	PriorDepGroups domain.PriorCells
}

// Result is the outcome of a planning pass.
type Result struct {
	// Recipe is what will be recorded once the baked transactions land.
	Recipe domain.DeploymentRecipe

	Baked domain.BakedTransaction

	Cells     diff.Partition[domain.CellSpec]
	DepGroups diff.Partition[domain.DepGroupSpec]

	RetainedCells     []domain.CellRecord
	RetainedDepGroups []domain.DepGroupRecord
}

// CellStatus returns the plan status of a recorded cell.
func (r Result) CellStatus(name string) diff.Status {
	if s := r.Cells.StatusOf(name, diff.CellName); s != "" {
		return s
	}
	return diff.StatusRetained
}

// DepGroupStatus returns the plan status of a recorded dep group.
func (r Result) DepGroupStatus(name string) diff.Status {
	if s := r.DepGroups.StatusOf(name, diff.DepGroupName); s != "" {
		return s
	}
	return diff.StatusRetained
}
