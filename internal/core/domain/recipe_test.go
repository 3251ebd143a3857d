package domain

import (
	"errors"
	"testing"

	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Recipe Tests
// =============================================================================

func TestDeploymentRecipe_Lookup(t *testing.T) {
	recipe := DeploymentRecipe{
		CellRecords:     []CellRecord{{Name: "a", Index: 0}, {Name: "b", Index: 1}},
		DepGroupRecords: []DepGroupRecord{{Name: "g", Index: 0}},
	}

	b, ok := recipe.Cell("b")
	assert.True(t, ok)
	assert.Equal(t, uint32(1), b.Index)

	_, ok = recipe.Cell("missing")
	assert.False(t, ok)

	_, ok = recipe.DepGroup("g")
	assert.True(t, ok)
	assert.False(t, recipe.IsEmpty())
	assert.True(t, DeploymentRecipe{}.IsEmpty())
}

func TestCellSpec_DataHash(t *testing.T) {
	spec := CellSpec{Name: "x", Payload: Payload{Data: []byte("code")}}
	assert.Equal(t, ledger.Blake256([]byte("code")), spec.DataHash())
	assert.False(t, spec.Payload.IsReference())
}

func TestBakedTransaction_Order(t *testing.T) {
	cells := &BuiltTx{Tx: &ledger.Transaction{}}
	groups := &BuiltTx{Tx: &ledger.Transaction{Version: 1}}

	assert.True(t, BakedTransaction{}.IsEmpty())
	assert.Equal(t, []*BuiltTx{cells, groups}, BakedTransaction{Cells: cells, DepGroups: groups}.Transactions())
	assert.Equal(t, []*BuiltTx{groups}, BakedTransaction{DepGroups: groups}.Transactions())
}

func TestBuiltTx_ReusedCapacity(t *testing.T) {
	built := &BuiltTx{Reused: []LiveCellRef{{Capacity: 10}, {Capacity: 32}}}
	assert.Equal(t, uint64(42), built.ReusedCapacity())
}

// =============================================================================
// Error Tests
// =============================================================================

func TestDeployError_Kinds(t *testing.T) {
	cause := errors.New("rpc rejected")

	err := NewBroadcastError("0xabc", cause)
	assert.ErrorIs(t, err, ErrBroadcast)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "0xabc")
	assert.Contains(t, err.Error(), "rpc rejected")
}

func TestDeployError_ConfigMessage(t *testing.T) {
	err := NewConfigError("build_dep_groups", "G", `member "Y" does not resolve to a cell`)

	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, `build_dep_groups: configuration error (G): member "Y" does not resolve to a cell`, err.Error())
}

func TestDeployError_As(t *testing.T) {
	var wrapped error = NewRecoveryError("/tmp/migrations/dev/current.json")

	var de *DeployError
	assert.True(t, errors.As(wrapped, &de))
	assert.Equal(t, ErrRecovery, de.Kind)
	assert.Equal(t, "/tmp/migrations/dev/current.json", de.Name)
}
