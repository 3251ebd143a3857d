package domain

import (
	"time"

	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/google/uuid"
)

// historyNamespace seeds the IDs of deployments indexed from snapshots that
// carry no run ID.
var historyNamespace = uuid.MustParse("5b0f3a52-9c36-4e0e-8d0b-0c7f3f6a2d11")

// =============================================================================
// Deployment History
// =============================================================================

// HistoryEntry is one completed deployment as kept in the history index. The
// JSON snapshots remain the source of truth; the index can be rebuilt from
// them.
type HistoryEntry struct {
	RunID    string
	Env      string
	Snapshot string // file name of the completed snapshot

	// Transactions sent by the run. Nil when the class had nothing to deploy
	// or the entry was rebuilt from a snapshot.
	CellsTx     *ledger.Hash
	DepGroupsTx *ledger.Hash

	MigratedCapacity      uint64
	TotalOccupiedCapacity uint64
	FeeTotal              uint64

	Recipe    DeploymentRecipe
	CreatedAt time.Time
}

// NewHistoryEntry creates an entry for a run that just completed.
func NewHistoryEntry(run *Run, snapshot string, recipe DeploymentRecipe) *HistoryEntry {
	return &HistoryEntry{
		RunID:     run.ID,
		Env:       run.Env,
		Snapshot:  snapshot,
		Recipe:    recipe,
		CreatedAt: time.Now().UTC(),
	}
}

// LegacyRunID derives a stable run ID for a snapshot written without one.
func LegacyRunID(env, snapshot string) string {
	return uuid.NewSHA1(historyNamespace, []byte(env+"/"+snapshot)).String()
}

// CellVersion is one recorded version of a named cell.
type CellVersion struct {
	RunID            string
	Snapshot         string
	TxHash           ledger.Hash
	Index            uint32
	DataHash         ledger.Hash
	OccupiedCapacity uint64
	IdentityHash     *ledger.Hash
	CreatedAt        time.Time
}
