// Package engine drives one deployment run from the declared manifest to the
// completed snapshot.
//
// A run moves through idle, plan_built, confirmed, snapshot_started,
// broadcasting and snapshot_completed. It may abort without error before the
// snapshot is started. Once the in-progress marker is written, any failure
// leaves the marker on disk and the next run refuses to start until an
// operator resolves it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/artpar/celldeploy/internal/core/deployment"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/artpar/celldeploy/internal/core/plan"
	"github.com/artpar/celldeploy/internal/core/snapshot"
	"github.com/artpar/celldeploy/internal/shell/manifest"
	"github.com/artpar/celldeploy/internal/shell/migration"
	"github.com/artpar/celldeploy/internal/shell/prompt"
	"github.com/artpar/celldeploy/internal/shell/store"
)

// ErrHistoryDisabled is returned by history queries when no index is wired.
var ErrHistoryDisabled = errors.New("deployment history index is disabled")

// =============================================================================
// Collaborators
// =============================================================================

// Wallet is the ledger and signing side of a run.
type Wallet interface {
	deployment.Funder
	migration.Ledger

	// ResolveDeps loads the cell deps of tx for the preflight check.
	ResolveDeps(ctx context.Context, tx *ledger.Transaction) (deployment.DepIndex, error)

	SignTransaction(ctx context.Context, tx *ledger.Transaction) error

	// Broadcast sends tx and returns the hash the ledger accepted it under.
	Broadcast(ctx context.Context, tx *ledger.Transaction) (ledger.Hash, error)
}

// Confirmer asks the operator to approve the plan.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Config wires a Deployer.
type Config struct {
	// MigrationsDir holds one directory of snapshots per environment.
	MigrationsDir string

	Wallet    Wallet
	Confirmer Confirmer

	// History is optional. When set, every completed run is indexed.
	History store.Store

	// Out receives the plan and operator notices.
	Out    io.Writer
	Logger *slog.Logger
}

// Options are the per-run settings.
type Options struct {
	Env string

	// Fee is paid once per built transaction, in shannons.
	Fee uint64

	// Migrate reuses the latest snapshot as the baseline. When off every
	// declared unit is deployed anew.
	Migrate bool

	// DryRun stops after printing the plan.
	DryRun bool
}

// Outcome describes a finished or aborted run.
type Outcome struct {
	Run     *domain.Run
	Result  *deployment.Result
	Summary plan.Summary

	// Snapshot is the name of the completed snapshot, if any.
	Snapshot string

	// Sent lists the transactions broadcast by this run. Transactions found
	// already on chain are in Landed instead.
	Sent   []ledger.Hash
	Landed []ledger.Hash
}

// Deployer runs deployments.
type Deployer struct {
	dir       string
	wallet    Wallet
	confirmer Confirmer
	history   store.Store
	out       io.Writer
	logger    *slog.Logger
}

// New creates a Deployer.
func New(cfg Config) *Deployer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Deployer{
		dir:       cfg.MigrationsDir,
		wallet:    cfg.Wallet,
		confirmer: cfg.Confirmer,
		history:   cfg.History,
		out:       cfg.Out,
		logger:    cfg.Logger.With("component", "deployer"),
	}
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy plans m against the latest snapshot of opts.Env and, once
// confirmed, signs, broadcasts and records it.
func (d *Deployer) Deploy(ctx context.Context, m *manifest.Manifest, opts Options) (*Outcome, error) {
	migrations, err := migration.NewStore(d.dir, opts.Env, d.logger)
	if err != nil {
		return nil, err
	}

	// The gate runs before any ledger query.
	if err := migrations.CheckNoIncomplete(); err != nil {
		return nil, err
	}

	run := domain.NewRun(opts.Env)
	out := &Outcome{Run: run}
	logger := d.logger.With("run_id", run.ID, "env", opts.Env)

	params := deployment.Params{
		Lock:      m.Lock,
		Fee:       opts.Fee,
		Cells:     m.Cells,
		DepGroups: m.DepGroups,
	}
	if opts.Migrate {
		doc, name, err := migrations.LoadLatest()
		if err != nil {
			return nil, err
		}
		prior, err := migrations.ResolveLiveCells(ctx, d.wallet, doc.Recipe)
		if err != nil {
			return nil, err
		}
		params.Prior = doc.Recipe
		params.PriorCells = prior.Cells
		params.PriorDepGroups = prior.DepGroups
		logger.Info("baseline loaded", "snapshot", name,
			"cells", len(prior.Cells), "dep_groups", len(prior.DepGroups))
	}

	result, err := deployment.NewBuilder(d.wallet).Build(ctx, params)
	if err != nil {
		return nil, err
	}
	out.Result = result
	if err := run.Transition(domain.StatePlanBuilt); err != nil {
		return nil, err
	}

	if result.Baked.IsEmpty() {
		prompt.Infof(d.out, "nothing to deploy, every cell and dep group is unchanged")
		return out, d.abort(run, domain.AbortNothingToDeploy, logger)
	}

	if err := d.preflight(ctx, result.Baked); err != nil {
		return nil, err
	}

	summary, err := plan.Summarize(result.Baked, opts.Fee)
	if err != nil {
		return nil, err
	}
	out.Summary = summary
	if err := d.printPlan(result, summary); err != nil {
		return nil, err
	}

	if opts.DryRun {
		return out, d.abort(run, domain.AbortDryRun, logger)
	}
	ok, err := d.confirmer.Confirm("Confirm deployment?")
	if err != nil {
		return nil, err
	}
	if !ok {
		prompt.Warningf(d.out, "deployment cancelled")
		return out, d.abort(run, domain.AbortDeclined, logger)
	}
	if err := run.Transition(domain.StateConfirmed); err != nil {
		return nil, err
	}

	for _, b := range result.Baked.Transactions() {
		if err := d.wallet.SignTransaction(ctx, b.Tx); err != nil {
			return nil, err
		}
	}

	// Nothing has touched the disk up to here.
	if err := migrations.Ensure(); err != nil {
		return nil, err
	}
	token, err := migrations.BeginSnapshot(snapshot.Document{
		Version:   snapshot.CurrentVersion,
		RunID:     run.ID,
		Env:       opts.Env,
		CreatedAt: time.Now().UTC(),
		Recipe:    result.Recipe,
	})
	if err != nil {
		return nil, err
	}
	if err := run.Transition(domain.StateSnapshotStarted); err != nil {
		return nil, err
	}

	if err := run.Transition(domain.StateBroadcasting); err != nil {
		return nil, err
	}
	for _, b := range result.Baked.Transactions() {
		landed, err := d.send(ctx, b, logger)
		if err != nil {
			logger.Error("deployment interrupted", "marker", token.Path, "error", err)
			return out, err
		}
		if landed {
			out.Landed = append(out.Landed, b.Hash())
		} else {
			out.Sent = append(out.Sent, b.Hash())
		}
	}

	name, err := migrations.CompleteSnapshot(token)
	if err != nil {
		logger.Error("snapshot not completed", "marker", token.Path, "error", err)
		return out, err
	}
	out.Snapshot = name
	if err := run.Transition(domain.StateSnapshotCompleted); err != nil {
		return nil, err
	}

	d.index(ctx, run, name, result, summary, logger)
	prompt.Successf(d.out, "deployment recorded as %s/%s", opts.Env, name)
	return out, nil
}

func (d *Deployer) abort(run *domain.Run, reason domain.AbortReason, logger *slog.Logger) error {
	if err := run.Abort(reason); err != nil {
		return err
	}
	logger.Info("run aborted", "reason", string(reason))
	return nil
}

// preflight checks that every output type script of every baked transaction
// can be loaded from the transaction's own cell deps.
func (d *Deployer) preflight(ctx context.Context, baked domain.BakedTransaction) error {
	for _, b := range baked.Transactions() {
		deps, err := d.wallet.ResolveDeps(ctx, b.Tx)
		if err != nil {
			return err
		}
		if err := deployment.CheckOutputs(b.Tx, deps); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) printPlan(result *deployment.Result, summary plan.Summary) error {
	text, err := plan.NewReport(result, summary).Marshal()
	if err != nil {
		return fmt.Errorf("render plan: %w", err)
	}
	prompt.Titlef(d.out, plan.Header)
	_, err = d.out.Write(text)
	return err
}

// send broadcasts b unless the ledger already knows it. It reports whether
// the transaction had landed before.
func (d *Deployer) send(ctx context.Context, b *domain.BuiltTx, logger *slog.Logger) (bool, error) {
	hash := b.Hash()
	_, found, err := d.wallet.LookupTransaction(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", hash, err)
	}
	if found {
		logger.Info("transaction already on chain, not sending", "tx_hash", hash.String())
		return true, nil
	}

	sent, err := d.wallet.Broadcast(ctx, b.Tx)
	if err != nil {
		return false, err
	}
	if sent != hash {
		return false, domain.NewBroadcastError(hash.String(),
			fmt.Errorf("ledger accepted the transaction as %s", sent))
	}
	logger.Debug("transaction broadcast", "tx_hash", hash.String())
	return false, nil
}

// index records the completed run in the history index. The snapshot is
// already written, so a failure here only warns.
func (d *Deployer) index(ctx context.Context, run *domain.Run, name string, result *deployment.Result, summary plan.Summary, logger *slog.Logger) {
	if d.history == nil {
		return
	}
	entry := domain.NewHistoryEntry(run, name, result.Recipe)
	if b := result.Baked.Cells; b != nil {
		h := b.Hash()
		entry.CellsTx = &h
	}
	if b := result.Baked.DepGroups; b != nil {
		h := b.Hash()
		entry.DepGroupsTx = &h
	}
	entry.MigratedCapacity = summary.MigratedCapacity
	entry.TotalOccupiedCapacity = summary.TotalOccupiedCapacity
	entry.FeeTotal = summary.FeeTotal

	if err := d.history.RecordDeployment(ctx, entry); err != nil {
		logger.Warn("history index not updated, run history --reindex", "error", err)
		prompt.Warningf(d.out, "history index not updated: %v", err)
	}
}
