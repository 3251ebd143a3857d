package deployment

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/artpar/celldeploy/internal/core/diff"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFee = 10_000 // 0.0001 CKB

// =============================================================================
// Fake Funder
// =============================================================================

type fakeFunder struct {
	lock     ledger.Script
	deps     []ledger.CellDep
	cells    []domain.LiveCellRef
	requests []uint64
	excluded [][]ledger.OutPoint
	depCalls int
}

func newFakeFunder(capacities ...uint64) *fakeFunder {
	f := &fakeFunder{
		lock: ledger.Script{CodeHash: ledger.Secp256k1Blake160CodeHash, HashType: ledger.HashTypeType, Args: bytes.Repeat([]byte{1}, 20)},
		deps: []ledger.CellDep{{OutPoint: ledger.OutPoint{TxHash: ledger.Blake256([]byte("genesis#1"))}, DepType: ledger.DepTypeDepGroup}},
	}
	for i, c := range capacities {
		f.cells = append(f.cells, domain.LiveCellRef{
			OutPoint:  ledger.OutPoint{TxHash: ledger.Blake256([]byte(fmt.Sprintf("wallet-%d", i)))},
			Capacity:  c * ledger.ShannonsPerCKB,
			Spendable: true,
		})
	}
	return f
}

func (f *fakeFunder) ChangeLock() ledger.Script { return f.lock }

func (f *fakeFunder) LockDeps(ctx context.Context) ([]ledger.CellDep, error) {
	f.depCalls++
	return f.deps, nil
}

func (f *fakeFunder) CollectSpendable(ctx context.Context, min uint64, exclude *ledger.OutPointSet) ([]domain.LiveCellRef, error) {
	f.requests = append(f.requests, min)
	var skipped []ledger.OutPoint
	var out []domain.LiveCellRef
	var total uint64
	for _, c := range f.cells {
		if exclude.Contains(c.OutPoint) {
			skipped = append(skipped, c.OutPoint)
			continue
		}
		out = append(out, c)
		total += c.Capacity
		if total >= min {
			f.excluded = append(f.excluded, skipped)
			return out, nil
		}
	}
	f.excluded = append(f.excluded, skipped)
	return nil, domain.NewCapacityError("collect", "not enough spendable capacity", nil)
}

func (f *fakeFunder) calls() int { return len(f.requests) + f.depCalls }

// =============================================================================
// Helpers
// =============================================================================

func deployLock() ledger.Script {
	return ledger.Script{CodeHash: ledger.Secp256k1Blake160CodeHash, HashType: ledger.HashTypeType, Args: bytes.Repeat([]byte{2}, 20)}
}

func cellSpec(name string, data []byte, identity bool) domain.CellSpec {
	return domain.CellSpec{Name: name, Payload: domain.Payload{Data: data}, IdentityEnabled: identity}
}

// priorFrom simulates the Migration Store resolving the cells a previous
// result left on chain.
func priorFrom(t *testing.T, params Params, res *Result) Params {
	t.Helper()
	next := params
	next.Prior = res.Recipe
	next.PriorCells = domain.PriorCells{}
	next.PriorDepGroups = domain.PriorCells{}

	txs := map[ledger.Hash]*ledger.Transaction{}
	for _, b := range res.Baked.Transactions() {
		txs[b.Hash()] = b.Tx
	}
	for _, r := range res.Recipe.CellRecords {
		tx, ok := txs[r.TxHash]
		require.True(t, ok, "cell %s not in baked txs", r.Name)
		out := tx.Outputs[r.Index]
		next.PriorCells[r.Name] = domain.PriorCell{
			Name:     r.Name,
			Ref:      domain.LiveCellRef{OutPoint: r.OutPoint(), Capacity: out.Capacity, Spendable: true},
			Type:     out.Type,
			DataHash: ledger.Blake256(tx.OutputsData[r.Index]),
		}
	}
	for _, r := range res.Recipe.DepGroupRecords {
		tx, ok := txs[r.TxHash]
		require.True(t, ok, "dep group %s not in baked txs", r.Name)
		next.PriorDepGroups[r.Name] = domain.PriorCell{
			Name:     r.Name,
			Ref:      domain.LiveCellRef{OutPoint: r.OutPoint(), Capacity: tx.Outputs[r.Index].Capacity, Spendable: true},
			DataHash: ledger.Blake256(tx.OutputsData[r.Index]),
		}
	}
	return next
}

func sumInputs(b *domain.BuiltTx) uint64 {
	var total uint64
	for _, r := range append(append([]domain.LiveCellRef{}, b.Reused...), b.Funding...) {
		total += r.Capacity
	}
	return total
}

// =============================================================================
// End-to-end Scenario
// =============================================================================

func TestBuild_FirstDeployment(t *testing.T) {
	funder := newFakeFunder(1000, 1000, 1000)
	x := make([]byte, 1024)
	params := Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", x, true)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X"}}},
	}

	res, err := NewBuilder(funder).Build(context.Background(), params)
	require.NoError(t, err)

	// cells tx: one deployed output plus change
	cells := res.Baked.Cells
	require.NotNil(t, cells)
	require.Len(t, cells.Tx.Outputs, 2)
	assert.Equal(t, x, cells.Tx.OutputsData[0])
	assert.Equal(t, uint64(8+53+65+1024)*ledger.ShannonsPerCKB, cells.Tx.Outputs[0].Capacity)
	assert.Empty(t, cells.Reused)
	assert.Equal(t, 1, cells.Deployed)
	assert.Equal(t, funder.deps, cells.Tx.CellDeps)

	// identity derived from the first input, output index 0
	wantType := ledger.TypeIDScript(cells.Tx.Inputs[0], 0)
	require.NotNil(t, cells.Tx.Outputs[0].Type)
	assert.True(t, wantType.Equal(*cells.Tx.Outputs[0].Type))

	// dep groups tx encodes (cells tx hash, 0)
	groups := res.Baked.DepGroups
	require.NotNil(t, groups)
	want := ledger.EncodeOutPoints([]ledger.OutPoint{{TxHash: cells.Hash(), Index: 0}})
	assert.Equal(t, want, groups.Tx.OutputsData[0])
	assert.Nil(t, groups.Tx.Outputs[0].Type)

	// records
	require.Len(t, res.Recipe.CellRecords, 1)
	rec := res.Recipe.CellRecords[0]
	assert.Equal(t, cells.Hash(), rec.TxHash)
	assert.Equal(t, uint32(0), rec.Index)
	assert.Equal(t, ledger.Blake256(x), rec.DataHash)
	require.NotNil(t, rec.IdentityHash)
	assert.Equal(t, wantType.Hash(), *rec.IdentityHash)
	require.Len(t, res.Recipe.DepGroupRecords, 1)
	assert.Equal(t, groups.Hash(), res.Recipe.DepGroupRecords[0].TxHash)
	assert.Equal(t, uint64(8+53+40)*ledger.ShannonsPerCKB, res.Recipe.DepGroupRecords[0].OccupiedCapacity)

	assert.Equal(t, diff.StatusNew, res.CellStatus("X"))
	assert.Equal(t, diff.StatusNew, res.DepGroupStatus("G"))
}

func TestBuild_Idempotent(t *testing.T) {
	funder := newFakeFunder(1000, 1000, 1000)
	params := Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", make([]byte, 1024), true), cellSpec("Y", []byte("lib"), false)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X", "Y"}}},
	}
	first, err := NewBuilder(funder).Build(context.Background(), params)
	require.NoError(t, err)

	second, err := NewBuilder(newFakeFunder()).Build(context.Background(), priorFrom(t, params, first))
	require.NoError(t, err)

	assert.True(t, second.Baked.IsEmpty())
	assert.Len(t, second.Cells.Unchanged, 2)
	assert.Len(t, second.DepGroups.Unchanged, 1)
	assert.Equal(t, first.Recipe, second.Recipe)
	assert.Equal(t, diff.StatusUnchanged, second.CellStatus("X"))
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestBuild_IdentityContinuity(t *testing.T) {
	funder := newFakeFunder(1000, 1000, 1000, 1000, 1000)
	v1 := Params{Lock: deployLock(), Fee: testFee, Cells: []domain.CellSpec{cellSpec("X", []byte("v1"), true)}}
	first, err := NewBuilder(funder).Build(context.Background(), v1)
	require.NoError(t, err)

	v2 := priorFrom(t, v1, first)
	v2.Cells = []domain.CellSpec{cellSpec("X", []byte("version two"), true)}
	second, err := NewBuilder(funder).Build(context.Background(), v2)
	require.NoError(t, err)

	r1 := first.Recipe.CellRecords[0]
	r2 := second.Recipe.CellRecords[0]
	assert.NotEqual(t, r1.DataHash, r2.DataHash)
	require.NotNil(t, r2.IdentityHash)
	assert.Equal(t, *r1.IdentityHash, *r2.IdentityHash)

	// the old cell is spent by the upgrade
	require.Len(t, second.Baked.Cells.Reused, 1)
	assert.Equal(t, r1.OutPoint(), second.Baked.Cells.Reused[0].OutPoint)
	assert.Equal(t, r1.OutPoint(), second.Baked.Cells.Tx.Inputs[0].PreviousOutput)
	assert.Equal(t, diff.StatusChanged, second.CellStatus("X"))
}

func TestBuild_IdentityDisabled(t *testing.T) {
	res, err := NewBuilder(newFakeFunder(1000)).Build(context.Background(), Params{
		Lock:  deployLock(),
		Fee:   testFee,
		Cells: []domain.CellSpec{cellSpec("X", []byte("code"), false)},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Baked.Cells.Tx.Outputs[0].Type)
	assert.Nil(t, res.Recipe.CellRecords[0].IdentityHash)
}

func TestBuild_IdentitySeedCollectedWithoutPriorInputs(t *testing.T) {
	funder := newFakeFunder(2000)
	_, err := NewBuilder(funder).Build(context.Background(), Params{
		Lock:  deployLock(),
		Fee:   testFee,
		Cells: []domain.CellSpec{cellSpec("X", []byte("code"), true)},
	})
	require.NoError(t, err)

	require.NotEmpty(t, funder.requests)
	assert.Equal(t, uint64(identitySeedCapacity), funder.requests[0])
}

// =============================================================================
// Dep Group Tests
// =============================================================================

func TestBuild_DepGroupUsesFreshCellTx(t *testing.T) {
	funder := newFakeFunder(1000, 1000, 1000, 1000, 1000, 1000)
	params := Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", []byte("v1"), false)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X"}}},
	}
	first, err := NewBuilder(funder).Build(context.Background(), params)
	require.NoError(t, err)

	next := priorFrom(t, params, first)
	next.Cells = []domain.CellSpec{cellSpec("X", []byte("v2"), false)}
	second, err := NewBuilder(funder).Build(context.Background(), next)
	require.NoError(t, err)

	require.NotNil(t, second.Baked.DepGroups)
	fresh := second.Baked.Cells.Hash()
	assert.NotEqual(t, first.Baked.Cells.Hash(), fresh)
	points, err := ledger.DecodeOutPoints(second.Baked.DepGroups.Tx.OutputsData[0])
	require.NoError(t, err)
	assert.Equal(t, []ledger.OutPoint{{TxHash: fresh, Index: 0}}, points)
	assert.Equal(t, diff.StatusChanged, second.DepGroupStatus("G"))
}

func TestBuild_UnresolvableMemberFailsBeforeFunding(t *testing.T) {
	funder := newFakeFunder(1000)
	_, err := NewBuilder(funder).Build(context.Background(), Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", []byte("code"), true)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X", "missing"}}},
	})

	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "missing")
	assert.Zero(t, funder.calls())
}

func TestBuild_DepGroupReferencesOnChainCell(t *testing.T) {
	secp := ledger.OutPoint{TxHash: ledger.Blake256([]byte("genesis#0")), Index: 1}
	res, err := NewBuilder(newFakeFunder(1000)).Build(context.Background(), Params{
		Lock: deployLock(),
		Fee:  testFee,
		Cells: []domain.CellSpec{
			{Name: "secp", Payload: domain.Payload{Ref: &secp}},
		},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"secp"}}},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Baked.Cells)
	assert.Empty(t, res.Recipe.CellRecords)
	assert.Equal(t, ledger.EncodeOutPoints([]ledger.OutPoint{secp}), res.Baked.DepGroups.Tx.OutputsData[0])
}

func TestBuild_DepGroupRetainedMember(t *testing.T) {
	old := domain.CellRecord{Name: "old", TxHash: ledger.Blake256([]byte("old tx")), Index: 3}
	res, err := NewBuilder(newFakeFunder(1000)).Build(context.Background(), Params{
		Lock:      deployLock(),
		Fee:       testFee,
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"old"}}},
		Prior:     domain.DeploymentRecipe{CellRecords: []domain.CellRecord{old}},
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.EncodeOutPoints([]ledger.OutPoint{old.OutPoint()}), res.Baked.DepGroups.Tx.OutputsData[0])
	assert.Equal(t, []domain.CellRecord{old}, res.Recipe.CellRecords)
	assert.Equal(t, diff.StatusRetained, res.CellStatus("old"))
}

// =============================================================================
// Funding Tests
// =============================================================================

func TestBuild_InsufficientFunds(t *testing.T) {
	_, err := NewBuilder(newFakeFunder(100)).Build(context.Background(), Params{
		Lock:  deployLock(),
		Fee:   testFee,
		Cells: []domain.CellSpec{cellSpec("X", make([]byte, 1024), false)},
	})

	assert.ErrorIs(t, err, domain.ErrCapacity)
}

func TestBuild_CapacityConservation(t *testing.T) {
	funder := newFakeFunder(700, 700, 700, 700)
	params := Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", make([]byte, 1024), true), cellSpec("Y", make([]byte, 10), false)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X", "Y"}}},
	}
	res, err := NewBuilder(funder).Build(context.Background(), params)
	require.NoError(t, err)

	for _, b := range res.Baked.Transactions() {
		outputs, err := b.Tx.OutputsCapacity()
		require.NoError(t, err)
		assert.Equal(t, sumInputs(b), outputs+testFee)

		for i, out := range b.Tx.Outputs {
			occupied, err := ledger.OccupiedCapacity(out, len(b.Tx.OutputsData[i]))
			require.NoError(t, err)
			assert.LessOrEqual(t, occupied, out.Capacity)
		}
	}
}

func TestBuild_LockedInputsExcludedFromDepGroupFunding(t *testing.T) {
	funder := newFakeFunder(1000, 1000, 1000)
	res, err := NewBuilder(funder).Build(context.Background(), Params{
		Lock:      deployLock(),
		Fee:       testFee,
		Cells:     []domain.CellSpec{cellSpec("X", make([]byte, 100), true)},
		DepGroups: []domain.DepGroupSpec{{Name: "G", Members: []string{"X"}}},
	})
	require.NoError(t, err)

	cellInputs := ledger.NewOutPointSet()
	cellInputs.Add(res.Baked.Cells.Tx.InputOutPoints()...)
	for _, in := range res.Baked.DepGroups.Tx.InputOutPoints() {
		assert.False(t, cellInputs.Contains(in), "input %s spent twice", in)
	}

	last := funder.excluded[len(funder.excluded)-1]
	for _, p := range res.Baked.Cells.Tx.InputOutPoints() {
		assert.Contains(t, last, p)
	}
	assert.Equal(t, 1, funder.depCalls)
}

func TestBuild_RetainedRecordsCarried(t *testing.T) {
	gone := domain.CellRecord{Name: "gone", TxHash: ledger.Blake256([]byte("t")), Index: 0}
	goneGroup := domain.DepGroupRecord{Name: "gone-group", TxHash: ledger.Blake256([]byte("t")), Index: 1}
	res, err := NewBuilder(newFakeFunder(1000)).Build(context.Background(), Params{
		Lock:  deployLock(),
		Fee:   testFee,
		Cells: []domain.CellSpec{cellSpec("X", []byte("x"), false)},
		Prior: domain.DeploymentRecipe{
			CellRecords:     []domain.CellRecord{gone},
			DepGroupRecords: []domain.DepGroupRecord{goneGroup},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Recipe.CellRecords, 2)
	assert.Equal(t, "X", res.Recipe.CellRecords[0].Name)
	assert.Equal(t, gone, res.Recipe.CellRecords[1])
	assert.Equal(t, []domain.DepGroupRecord{goneGroup}, res.Recipe.DepGroupRecords)
	assert.Nil(t, res.Baked.DepGroups)
}

func TestBuild_NothingDeclared(t *testing.T) {
	funder := newFakeFunder(1000)
	res, err := NewBuilder(funder).Build(context.Background(), Params{Lock: deployLock(), Fee: testFee})
	require.NoError(t, err)

	assert.True(t, res.Baked.IsEmpty())
	assert.Zero(t, funder.calls())
}
