package migration

import (
	"context"
	"fmt"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// Ledger is the part of the node that live cell resolution needs.
type Ledger interface {
	// LookupTransaction returns the committed transaction with hash. found is
	// false when the node does not know it.
	LookupTransaction(ctx context.Context, hash ledger.Hash) (tx *ledger.Transaction, found bool, err error)

	// IsLive reports whether out is still unspent.
	IsLive(ctx context.Context, out ledger.OutPoint) (bool, error)
}

// Prior is the live state of a recipe's records.
type Prior struct {
	Cells     domain.PriorCells
	DepGroups domain.PriorCells
}

// ResolveLiveCells looks up every record of recipe on the ledger. Records
// whose transaction is gone, or whose index is past the transaction's
// outputs, are omitted.
func (s *Store) ResolveLiveCells(ctx context.Context, l Ledger, recipe domain.DeploymentRecipe) (Prior, error) {
	prior := Prior{Cells: domain.PriorCells{}, DepGroups: domain.PriorCells{}}

	for _, rec := range recipe.CellRecords {
		cell, ok, err := s.resolve(ctx, l, rec.Name, rec.OutPoint())
		if err != nil {
			return Prior{}, err
		}
		if ok {
			prior.Cells[rec.Name] = cell
		}
	}
	for _, rec := range recipe.DepGroupRecords {
		group, ok, err := s.resolve(ctx, l, rec.Name, rec.OutPoint())
		if err != nil {
			return Prior{}, err
		}
		if ok {
			prior.DepGroups[rec.Name] = group
		}
	}
	return prior, nil
}

func (s *Store) resolve(ctx context.Context, l Ledger, name string, out ledger.OutPoint) (domain.PriorCell, bool, error) {
	logger := s.logger.With("name", name, "out_point", out.String())

	tx, found, err := l.LookupTransaction(ctx, out.TxHash)
	if err != nil {
		return domain.PriorCell{}, false, fmt.Errorf("look up %q: %w", name, err)
	}
	if !found {
		logger.Warn("recorded transaction not found, treating as absent")
		return domain.PriorCell{}, false, nil
	}
	if int(out.Index) >= len(tx.Outputs) || int(out.Index) >= len(tx.OutputsData) {
		logger.Warn("recorded index out of range, treating as absent", "outputs", len(tx.Outputs))
		return domain.PriorCell{}, false, nil
	}

	live, err := l.IsLive(ctx, out)
	if err != nil {
		return domain.PriorCell{}, false, fmt.Errorf("check %q is live: %w", name, err)
	}

	output := tx.Outputs[out.Index]
	cell := domain.PriorCell{
		Name: name,
		Ref: domain.LiveCellRef{
			OutPoint:  out,
			Capacity:  output.Capacity,
			Spendable: live,
		},
		DataHash: ledger.Blake256(tx.OutputsData[out.Index]),
	}
	if output.Type != nil {
		typ := output.Type.Clone()
		cell.Type = &typ
	}
	logger.Debug("resolved prior cell", "capacity", output.Capacity, "live", live)
	return cell, true, nil
}
