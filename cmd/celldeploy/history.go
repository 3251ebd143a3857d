package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/artpar/celldeploy/internal/engine"
	"github.com/artpar/celldeploy/internal/shell/prompt"
	"github.com/artpar/celldeploy/internal/shell/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		reindex bool
		cell    string
		opts    = store.DefaultListOptions()
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed deployments of the environment",
		Long: `List completed deployments from the history index, newest first.

The index is rebuilt from the snapshot files with --reindex. The snapshot
files stay the source of truth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.History.Enabled {
				return engine.ErrHistoryDisabled
			}
			s, err := a.openHistory()
			if err != nil {
				return err
			}
			defer s.Close()

			d := a.deployer(s)
			env := a.cfg.Deploy.Env
			ctx := cmd.Context()

			if reindex {
				n, err := d.Reindex(ctx, env)
				if err != nil {
					return err
				}
				prompt.Successf(a.errOut, "indexed %d snapshots of %s", n, env)
			}

			if cell != "" {
				versions, err := d.CellVersions(ctx, env, cell)
				if err != nil {
					return err
				}
				return printCellVersions(a, versions)
			}

			entries, err := d.History(ctx, env, opts)
			if err != nil {
				return err
			}
			return printHistory(a, entries)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&reindex, "reindex", false, "rebuild the index from the snapshot files first")
	f.StringVar(&cell, "cell", "", "list every recorded version of the named cell")
	f.IntVar(&opts.Limit, "limit", opts.Limit, "maximum number of deployments to list")
	f.IntVar(&opts.Offset, "offset", 0, "number of deployments to skip")
	return cmd
}

func printHistory(a *app, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		prompt.Infof(a.errOut, "no deployments recorded")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SNAPSHOT\tCREATED\tCELLS\tDEP GROUPS\tOCCUPIED\tFEE\tRUN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			e.Snapshot,
			e.CreatedAt.Format(time.RFC3339),
			len(e.Recipe.CellRecords),
			len(e.Recipe.DepGroupRecords),
			ledger.FormatCapacity(e.TotalOccupiedCapacity),
			ledger.FormatCapacity(e.FeeTotal),
			e.RunID)
	}
	return tw.Flush()
}

func printCellVersions(a *app, versions []domain.CellVersion) error {
	if len(versions) == 0 {
		prompt.Infof(a.errOut, "no versions recorded")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SNAPSHOT\tOUT POINT\tDATA HASH\tTYPE ID")
	for _, v := range versions {
		typeID := "-"
		if v.IdentityHash != nil {
			typeID = v.IdentityHash.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			v.Snapshot,
			ledger.OutPoint{TxHash: v.TxHash, Index: v.Index},
			v.DataHash,
			typeID)
	}
	return tw.Flush()
}
