package plan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/artpar/celldeploy/internal/core/deployment"
	"github.com/artpar/celldeploy/internal/core/diff"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fee = 10_000

func lock() ledger.Script {
	return ledger.Script{CodeHash: ledger.Secp256k1Blake160CodeHash, HashType: ledger.HashTypeType, Args: bytes.Repeat([]byte{3}, 20)}
}

// builtTx makes a transaction with one deployed output per payload followed by
// a change output.
func builtTx(t *testing.T, reused []uint64, payloads ...[]byte) *domain.BuiltTx {
	t.Helper()
	b := &domain.BuiltTx{Tx: &ledger.Transaction{}, Deployed: len(payloads)}
	for i, c := range reused {
		b.Reused = append(b.Reused, domain.LiveCellRef{
			OutPoint:  ledger.OutPoint{Index: uint32(i)},
			Capacity:  c * ledger.ShannonsPerCKB,
			Spendable: true,
		})
	}
	for _, data := range payloads {
		out, err := ledger.ExactOutput(lock(), nil, data)
		require.NoError(t, err)
		b.Tx.AddOutput(out, data)
	}
	b.Tx.AddOutput(ledger.CellOutput{Capacity: 500 * ledger.ShannonsPerCKB, Lock: lock()}, []byte{})
	return b
}

// =============================================================================
// Summary Tests
// =============================================================================

func TestSummarize_NewDeployment(t *testing.T) {
	baked := domain.BakedTransaction{
		Cells:     builtTx(t, nil, make([]byte, 1024)),
		DepGroups: builtTx(t, nil, make([]byte, 40)),
	}

	s, err := Summarize(baked, fee)
	require.NoError(t, err)

	assert.Equal(t, 2, s.TxCount)
	assert.Zero(t, s.MigratedCapacity)
	assert.Equal(t, uint64(1085+101)*ledger.ShannonsPerCKB, s.TotalOccupiedCapacity)
	assert.Equal(t, int64(s.TotalOccupiedCapacity), s.NewOccupiedCapacity)
	assert.Equal(t, uint64(2*fee), s.FeeTotal)
}

func TestSummarize_CapacityConservation(t *testing.T) {
	baked := domain.BakedTransaction{Cells: builtTx(t, []uint64{1085}, make([]byte, 2048))}

	s, err := Summarize(baked, fee)
	require.NoError(t, err)

	assert.Equal(t, 1085*ledger.ShannonsPerCKB, s.MigratedCapacity)
	assert.Equal(t, int64(s.TotalOccupiedCapacity), int64(s.MigratedCapacity)+s.NewOccupiedCapacity)
	assert.Equal(t, int64(1024*ledger.ShannonsPerCKB), s.NewOccupiedCapacity)
	assert.Equal(t, uint64(fee), s.FeeTotal)
}

func TestSummarize_ShrinkingUpgrade(t *testing.T) {
	baked := domain.BakedTransaction{Cells: builtTx(t, []uint64{2109}, make([]byte, 1024))}

	s, err := Summarize(baked, fee)
	require.NoError(t, err)

	assert.Equal(t, -int64(1024*ledger.ShannonsPerCKB), s.NewOccupiedCapacity)
}

func TestSummarize_Empty(t *testing.T) {
	s, err := Summarize(domain.BakedTransaction{}, fee)
	require.NoError(t, err)

	assert.Equal(t, Summary{}, s)
}

// =============================================================================
// Report Tests
// =============================================================================

func TestReport_Marshal(t *testing.T) {
	id := ledger.Blake256([]byte("id"))
	result := &deployment.Result{
		Recipe: domain.DeploymentRecipe{
			CellRecords: []domain.CellRecord{
				{Name: "X", TxHash: ledger.Blake256([]byte("tx")), OccupiedCapacity: 1150 * ledger.ShannonsPerCKB, IdentityHash: &id},
				{Name: "old", OccupiedCapacity: 64 * ledger.ShannonsPerCKB},
			},
			DepGroupRecords: []domain.DepGroupRecord{{Name: "G", Index: 0, OccupiedCapacity: 101 * ledger.ShannonsPerCKB}},
		},
		Cells: diff.Partition[domain.CellSpec]{
			New: []diff.Item[domain.CellSpec]{{Spec: domain.CellSpec{Name: "X"}}},
		},
		DepGroups: diff.Partition[domain.DepGroupSpec]{
			Unchanged: []diff.Item[domain.DepGroupSpec]{{Spec: domain.DepGroupSpec{Name: "G"}}},
		},
	}
	summary := Summary{MigratedCapacity: 0, TotalOccupiedCapacity: 1150 * ledger.ShannonsPerCKB, NewOccupiedCapacity: int64(1150 * ledger.ShannonsPerCKB), FeeTotal: fee, TxCount: 1}

	out, err := NewReport(result, summary).Marshal()
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, "migrated_capacity: 0.0 (CKB)\n"))
	assert.Contains(t, text, "new_occupied_capacity: 1150.0 (CKB)")
	assert.Contains(t, text, "txs_fee_capacity: 0.0001 (CKB)")
	assert.Equal(t, 1, strings.Count(text, "type_id:"))

	var decoded Report
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	require.Len(t, decoded.Recipe.Cells, 2)
	assert.Equal(t, diff.StatusNew, decoded.Recipe.Cells[0].Status)
	assert.Equal(t, id.String(), decoded.Recipe.Cells[0].TypeID)
	assert.Equal(t, diff.StatusRetained, decoded.Recipe.Cells[1].Status)
	assert.Equal(t, diff.StatusUnchanged, decoded.Recipe.DepGroups[0].Status)
}

func TestFormatSigned(t *testing.T) {
	assert.Equal(t, "1.0 (CKB)", formatSigned(int64(ledger.ShannonsPerCKB)))
	assert.Equal(t, "-1.0 (CKB)", formatSigned(-int64(ledger.ShannonsPerCKB)))
}
