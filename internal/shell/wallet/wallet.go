// Package wallet funds, checks, signs and broadcasts deployment transactions
// on behalf of the deployer's account.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/celldeploy/internal/core/deployment"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/artpar/celldeploy/internal/shell/rpc"
)

// pageSize is how many cells are requested from the indexer at a time.
const pageSize = 20

// ErrNoLockDep is returned when the genesis block does not carry the
// deployer lock's dep group.
var ErrNoLockDep = errors.New("genesis block has no lock dep group")

// Node is the part of the node client the wallet uses.
type Node interface {
	GetTransaction(ctx context.Context, hash ledger.Hash) (*rpc.TransactionWithStatus, error)
	SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Hash, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*rpc.Block, error)
	GetLiveCell(ctx context.Context, out ledger.OutPoint, withData bool) (*rpc.LiveCell, error)
	GetCells(ctx context.Context, key rpc.SearchKey, limit uint64, cursor string) (*rpc.CellsPage, error)
}

// Signer produces a recoverable signature over a sighash message.
type Signer interface {
	SignMessage(ctx context.Context, message ledger.Hash) ([]byte, error)
}

// =============================================================================
// Wallet
// =============================================================================

// Wallet is the deployer's account on one node.
type Wallet struct {
	node    Node
	address ledger.Address
	signer  Signer
	logger  *slog.Logger

	lockDeps []ledger.CellDep
}

// New creates a wallet for address. signer may be nil for plan-only use.
func New(node Node, address ledger.Address, signer Signer, logger *slog.Logger) *Wallet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wallet{
		node:    node,
		address: address,
		signer:  signer,
		logger:  logger.With("component", "wallet", "address", address.String()),
	}
}

// Address returns the deployer address.
func (w *Wallet) Address() ledger.Address {
	return w.address
}

// ChangeLock returns the deployer lock. Change and deployed cells use it.
func (w *Wallet) ChangeLock() ledger.Script {
	return w.address.Script.Clone()
}

// =============================================================================
// Ledger Queries
// =============================================================================

// LookupTransaction returns the transaction with hash if the node knows it,
// whether committed or still in the pool.
func (w *Wallet) LookupTransaction(ctx context.Context, hash ledger.Hash) (*ledger.Transaction, bool, error) {
	result, err := w.node.GetTransaction(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}
	return result.Transaction, true, nil
}

// IsLive reports whether out is an unspent cell.
func (w *Wallet) IsLive(ctx context.Context, out ledger.OutPoint) (bool, error) {
	cell, err := w.node.GetLiveCell(ctx, out, false)
	if err != nil {
		return false, err
	}
	return cell.Status == rpc.CellLive, nil
}

// LockDeps returns the dep group of the deployer lock: output 0 of the
// second transaction in the genesis block.
func (w *Wallet) LockDeps(ctx context.Context) ([]ledger.CellDep, error) {
	if w.lockDeps != nil {
		return w.lockDeps, nil
	}
	genesis, err := w.node.GetBlockByNumber(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load genesis block: %w", err)
	}
	if len(genesis.TxHashes) < 2 {
		return nil, ErrNoLockDep
	}
	w.lockDeps = []ledger.CellDep{{
		OutPoint: ledger.OutPoint{TxHash: genesis.TxHashes[1], Index: 0},
		DepType:  ledger.DepTypeDepGroup,
	}}
	return w.lockDeps, nil
}

// CollectSpendable gathers plain cells of the deployer lock until they add up
// to min shannons. Cells in exclude are skipped.
func (w *Wallet) CollectSpendable(ctx context.Context, min uint64, exclude *ledger.OutPointSet) ([]domain.LiveCellRef, error) {
	lock := w.address.Script
	key := rpc.SearchKey{Lock: lock, OnlyPlain: true}

	var (
		cells  []domain.LiveCellRef
		total  uint64
		cursor string
	)
	for total < min {
		page, err := w.node.GetCells(ctx, key, pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("search spendable cells: %w", err)
		}
		for _, c := range page.Cells {
			if total >= min {
				break
			}
			if exclude.Contains(c.OutPoint) {
				continue
			}
			if c.Output.Type != nil || len(c.Data) > 0 || !c.Output.Lock.Equal(lock) {
				continue
			}
			next, err := ledger.SafeAdd(total, c.Output.Capacity)
			if err != nil {
				return nil, domain.NewCapacityError("collect_spendable", "collected capacity", err)
			}
			total = next
			cells = append(cells, domain.LiveCellRef{OutPoint: c.OutPoint, Capacity: c.Output.Capacity, Spendable: true})
			w.logger.Debug("collected input", "out_point", c.OutPoint.String(), "capacity", c.Output.Capacity)
		}
		if len(page.Cells) < pageSize || page.LastCursor == "" || page.LastCursor == cursor {
			break
		}
		cursor = page.LastCursor
	}

	if total < min {
		return nil, domain.NewCapacityError("collect_spendable",
			fmt.Sprintf("insufficient spendable capacity: found %s, need %s",
				ledger.FormatCapacity(total), ledger.FormatCapacity(min)),
			nil)
	}
	return cells, nil
}

// ResolveDeps loads every cell dep of tx, expanding dep groups into their
// members, and indexes what they provide.
func (w *Wallet) ResolveDeps(ctx context.Context, tx *ledger.Transaction) (deployment.DepIndex, error) {
	index := deployment.NewDepIndex()
	for _, dep := range tx.CellDeps {
		data, err := w.loadDepCell(ctx, dep.OutPoint, index)
		if err != nil {
			return deployment.DepIndex{}, err
		}
		if dep.DepType != ledger.DepTypeDepGroup {
			continue
		}
		members, err := ledger.DecodeOutPoints(data)
		if err != nil {
			return deployment.DepIndex{}, domain.NewConfigError("resolve_deps", dep.OutPoint.String(), err.Error())
		}
		for _, m := range members {
			if _, err := w.loadDepCell(ctx, m, index); err != nil {
				return deployment.DepIndex{}, err
			}
		}
	}
	return index, nil
}

func (w *Wallet) loadDepCell(ctx context.Context, out ledger.OutPoint, index deployment.DepIndex) ([]byte, error) {
	cell, err := w.node.GetLiveCell(ctx, out, true)
	if err != nil {
		return nil, fmt.Errorf("load cell dep %s: %w", out, err)
	}
	if cell.Status != rpc.CellLive || cell.Output == nil {
		return nil, domain.NewConfigError("resolve_deps", out.String(), fmt.Sprintf("cell dep is %s", cell.Status))
	}
	index.AddCell(cell.Data, cell.Output.Type)
	return cell.Data, nil
}

// =============================================================================
// Signing / Broadcast
// =============================================================================

// SignTransaction signs every input of tx with the deployer key. All inputs
// share the deployer lock, so one signature covers them.
func (w *Wallet) SignTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if w.signer == nil {
		return fmt.Errorf("%w: no signer configured", ledger.ErrUnsignable)
	}
	if err := ledger.PrepareSighashWitnesses(tx); err != nil {
		return err
	}
	message, err := ledger.SighashAllMessage(tx)
	if err != nil {
		return err
	}
	signature, err := w.signer.SignMessage(ctx, message)
	if err != nil {
		return fmt.Errorf("sign %s: %w", tx.Hash(), err)
	}
	return ledger.AttachSignature(tx, signature)
}

// Broadcast submits tx and returns the hash the node reported.
func (w *Wallet) Broadcast(ctx context.Context, tx *ledger.Transaction) (ledger.Hash, error) {
	hash, err := w.node.SendTransaction(ctx, tx)
	if err != nil {
		return ledger.Hash{}, domain.NewBroadcastError(tx.Hash().String(), err)
	}
	w.logger.Info("transaction sent", "tx_hash", hash.String())
	return hash, nil
}
