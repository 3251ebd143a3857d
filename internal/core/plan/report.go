// Package plan computes and renders the capacity and fee summary shown before
// a deployment is confirmed.
//
// Every figure is computed from the baked transactions, never from the
// declared specs, so the summary describes exactly what will be broadcast.
package plan

import (
	"bytes"

	"github.com/artpar/celldeploy/internal/core/deployment"
	"github.com/artpar/celldeploy/internal/core/diff"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"gopkg.in/yaml.v3"
)

// Header precedes the rendered plan.
const Header = "Deployment plan:"

// =============================================================================
// Summary
// =============================================================================

// Summary holds the capacity figures of a plan, in shannons.
type Summary struct {
	// MigratedCapacity is the capacity of reused live cells spent as inputs.
	MigratedCapacity uint64
	// TotalOccupiedCapacity is the occupied capacity of every deployed output.
	TotalOccupiedCapacity uint64
	// NewOccupiedCapacity is total minus migrated. It is negative when an
	// upgrade shrinks.
	NewOccupiedCapacity int64
	// FeeTotal is the per-transaction fee times the number of transactions.
	FeeTotal uint64
	TxCount  int
}

// Summarize computes the summary of baked with fee paid per transaction.
func Summarize(baked domain.BakedTransaction, fee uint64) (Summary, error) {
	var s Summary
	for _, b := range baked.Transactions() {
		s.TxCount++
		for _, r := range b.Reused {
			next, err := ledger.SafeAdd(s.MigratedCapacity, r.Capacity)
			if err != nil {
				return Summary{}, domain.NewCapacityError("summarize", "migrated capacity", err)
			}
			s.MigratedCapacity = next
		}
		for i := 0; i < b.Deployed; i++ {
			occupied, err := ledger.OccupiedCapacity(b.Tx.Outputs[i], len(b.Tx.OutputsData[i]))
			if err != nil {
				return Summary{}, domain.NewCapacityError("summarize", "occupied capacity", err)
			}
			next, err := ledger.SafeAdd(s.TotalOccupiedCapacity, occupied)
			if err != nil {
				return Summary{}, domain.NewCapacityError("summarize", "total occupied capacity", err)
			}
			s.TotalOccupiedCapacity = next
		}
	}
	fees, err := ledger.SafeMul(fee, uint64(s.TxCount))
	if err != nil {
		return Summary{}, domain.NewCapacityError("summarize", "fee total", err)
	}
	s.FeeTotal = fees
	s.NewOccupiedCapacity = int64(s.TotalOccupiedCapacity) - int64(s.MigratedCapacity)
	return s, nil
}

// =============================================================================
// Report
// =============================================================================

// Report is the rendered form of a plan.
type Report struct {
	MigratedCapacity      string     `yaml:"migrated_capacity"`
	NewOccupiedCapacity   string     `yaml:"new_occupied_capacity"`
	TxsFeeCapacity        string     `yaml:"txs_fee_capacity"`
	TotalOccupiedCapacity string     `yaml:"total_occupied_capacity"`
	Recipe                RecipePlan `yaml:"recipe"`
}

// RecipePlan lists every record the run will leave behind.
type RecipePlan struct {
	Cells     []CellPlan     `yaml:"cells"`
	DepGroups []DepGroupPlan `yaml:"dep_groups"`
}

// CellPlan is one cell line of the plan.
type CellPlan struct {
	Name             string      `yaml:"name"`
	Status           diff.Status `yaml:"status"`
	TxHash           string      `yaml:"tx_hash"`
	Index            uint32      `yaml:"index"`
	OccupiedCapacity string      `yaml:"occupied_capacity"`
	DataHash         string      `yaml:"data_hash"`
	TypeID           string      `yaml:"type_id,omitempty"`
}

// DepGroupPlan is one dep group line of the plan.
type DepGroupPlan struct {
	Name             string      `yaml:"name"`
	Status           diff.Status `yaml:"status"`
	TxHash           string      `yaml:"tx_hash"`
	Index            uint32      `yaml:"index"`
	OccupiedCapacity string      `yaml:"occupied_capacity"`
}

// NewReport builds the report of a planning result.
func NewReport(result *deployment.Result, summary Summary) Report {
	r := Report{
		MigratedCapacity:      ledger.FormatCapacity(summary.MigratedCapacity),
		NewOccupiedCapacity:   formatSigned(summary.NewOccupiedCapacity),
		TxsFeeCapacity:        ledger.FormatCapacity(summary.FeeTotal),
		TotalOccupiedCapacity: ledger.FormatCapacity(summary.TotalOccupiedCapacity),
		Recipe: RecipePlan{
			Cells:     []CellPlan{},
			DepGroups: []DepGroupPlan{},
		},
	}
	for _, c := range result.Recipe.CellRecords {
		line := CellPlan{
			Name:             c.Name,
			Status:           result.CellStatus(c.Name),
			TxHash:           c.TxHash.String(),
			Index:            c.Index,
			OccupiedCapacity: ledger.FormatCapacity(c.OccupiedCapacity),
			DataHash:         c.DataHash.String(),
		}
		if c.IdentityHash != nil {
			line.TypeID = c.IdentityHash.String()
		}
		r.Recipe.Cells = append(r.Recipe.Cells, line)
	}
	for _, g := range result.Recipe.DepGroupRecords {
		r.Recipe.DepGroups = append(r.Recipe.DepGroups, DepGroupPlan{
			Name:             g.Name,
			Status:           result.DepGroupStatus(g.Name),
			TxHash:           g.TxHash.String(),
			Index:            g.Index,
			OccupiedCapacity: ledger.FormatCapacity(g.OccupiedCapacity),
		})
	}
	return r
}

// Marshal renders the report as YAML.
func (r Report) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatSigned keeps the unsigned form for the common non-negative case.
func formatSigned(v int64) string {
	if v < 0 {
		return ledger.FormatCapacityDelta(v)
	}
	return ledger.FormatCapacity(uint64(v))
}
