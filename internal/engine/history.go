package engine

import (
	"context"
	"fmt"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/snapshot"
	"github.com/artpar/celldeploy/internal/shell/migration"
	"github.com/artpar/celldeploy/internal/shell/store"
)

// =============================================================================
// Status
// =============================================================================

// Status is the deployment state of one environment.
type Status struct {
	Env string

	// Incomplete is set when a run left its in-progress marker behind.
	Incomplete bool
	MarkerPath string

	Snapshots []string
	// Latest is empty when nothing was deployed yet.
	Latest string
	Recipe domain.DeploymentRecipe
}

// Status reads the environment's snapshots without touching the ledger.
func (d *Deployer) Status(env string) (*Status, error) {
	migrations, err := migration.NewStore(d.dir, env, d.logger)
	if err != nil {
		return nil, err
	}
	incomplete, err := migrations.HasIncomplete()
	if err != nil {
		return nil, err
	}
	names, err := migrations.List()
	if err != nil {
		return nil, err
	}
	doc, latest, err := migrations.LoadLatest()
	if err != nil {
		return nil, err
	}
	return &Status{
		Env:        env,
		Incomplete: incomplete,
		MarkerPath: migrations.MarkerPath(),
		Snapshots:  names,
		Latest:     latest,
		Recipe:     doc.Recipe,
	}, nil
}

// =============================================================================
// History Index
// =============================================================================

// History lists the indexed deployments of env, newest first.
func (d *Deployer) History(ctx context.Context, env string, opts store.ListOptions) ([]domain.HistoryEntry, error) {
	if d.history == nil {
		return nil, ErrHistoryDisabled
	}
	return d.history.ListDeployments(ctx, env, opts)
}

// CellVersions lists every recorded version of the named cell in env.
func (d *Deployer) CellVersions(ctx context.Context, env, name string) ([]domain.CellVersion, error) {
	if d.history == nil {
		return nil, ErrHistoryDisabled
	}
	return d.history.ListCellVersions(ctx, env, name)
}

// Reindex rebuilds the history index of env from its snapshots. Entries
// rebuilt this way carry no transaction hashes or capacity figures. It
// returns the number of indexed snapshots.
func (d *Deployer) Reindex(ctx context.Context, env string) (int, error) {
	if d.history == nil {
		return 0, ErrHistoryDisabled
	}
	migrations, err := migration.NewStore(d.dir, env, d.logger)
	if err != nil {
		return 0, err
	}
	names, err := migrations.List()
	if err != nil {
		return 0, err
	}

	var entries []*domain.HistoryEntry
	for _, name := range names {
		doc, err := migrations.Load(name)
		if err != nil {
			return 0, err
		}
		entries = append(entries, entryFromSnapshot(env, name, doc))
	}

	err = d.history.WithTx(ctx, func(tx store.Store) error {
		removed, err := tx.DeleteDeployments(ctx, env)
		if err != nil {
			return err
		}
		d.logger.Debug("history index cleared", "env", env, "removed", removed)
		for _, e := range entries {
			if err := tx.RecordDeployment(ctx, e); err != nil {
				return fmt.Errorf("index %s: %w", e.Snapshot, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.logger.Info("history index rebuilt", "env", env, "snapshots", len(entries))
	return len(entries), nil
}

func entryFromSnapshot(env, name string, doc snapshot.Document) *domain.HistoryEntry {
	runID := doc.RunID
	if runID == "" {
		runID = domain.LegacyRunID(env, name)
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt, _ = migration.SnapshotTime(name)
	}
	return &domain.HistoryEntry{
		RunID:     runID,
		Env:       env,
		Snapshot:  name,
		Recipe:    doc.Recipe,
		CreatedAt: createdAt.UTC(),
	}
}
