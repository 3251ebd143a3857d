package main

import (
	"context"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/artpar/celldeploy/internal/engine"
	"github.com/artpar/celldeploy/internal/shell/manifest"
	"github.com/artpar/celldeploy/internal/shell/prompt"
	"github.com/artpar/celldeploy/internal/shell/rpc"
	"github.com/artpar/celldeploy/internal/shell/store"
	"github.com/artpar/celldeploy/internal/shell/wallet"
	"github.com/spf13/cobra"
)

func newDeployCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the manifest",
		Long: `Plan the manifest against the latest deployment of the environment, ask
for confirmation, then sign, broadcast and record the transactions.

A run that fails after broadcasting started leaves <env>/current.json behind.
Check which transactions landed, then move or delete the file by hand before
deploying again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDeploy(cmd.Context(), false, yes)
		},
	}
	addDeployFlags(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "deploy without asking for confirmation")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the deployment plan without deploying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDeploy(cmd.Context(), true, false)
		},
	}
	addDeployFlags(cmd)
	return cmd
}

func addDeployFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("address", "", "deployer address paying for the cells (ckb1... or ckt1...)")
	f.String("fee", "0.0001", "fee per transaction in CKB")
	f.String("migrate", "on", "reuse the latest deployment as baseline: on or off")
}

func (a *app) runDeploy(ctx context.Context, dryRun, yes bool) error {
	cfg := a.cfg
	if cfg.Deploy.Address == "" {
		return &usageError{err: domain.NewConfigError("deploy", "address", "--address is required")}
	}
	address, err := ledger.ParseAddress(cfg.Deploy.Address)
	if err != nil {
		return domain.NewConfigError("deploy", cfg.Deploy.Address, err.Error())
	}
	fee, _ := cfg.Deploy.FeeShannons()
	migrate, _ := cfg.Deploy.MigrateEnabled()

	m, err := manifest.Load(cfg.Project.ManifestPath(), manifestVars())
	if err != nil {
		return err
	}

	node := rpc.NewClient(rpc.Config{URL: cfg.Ledger.RPCURL, Timeout: cfg.Ledger.Timeout}, a.logger)
	signer := wallet.NewCLISigner(wallet.CLIConfig{
		Bin:     cfg.Ledger.CKBCLI,
		URL:     cfg.Ledger.RPCURL,
		Account: cfg.Deploy.Address,
	}, wallet.TerminalPassword{In: a.in, Out: a.errOut}, a.logger)
	defer signer.Close()
	w := wallet.New(node, address, signer, a.logger)

	// The index is a convenience; a run never fails because of it.
	var history store.Store
	if cfg.History.Enabled && !dryRun {
		s, err := a.openHistory()
		if err != nil {
			a.logger.Warn("history index unavailable", "dsn", cfg.History.DSN, "error", err)
		} else {
			defer s.Close()
			history = s
		}
	}

	d := engine.New(engine.Config{
		MigrationsDir: cfg.Project.MigrationsPath(),
		Wallet:        w,
		Confirmer:     prompt.NewConfirmer(a.in, a.errOut, yes),
		History:       history,
		Out:           a.out,
		Logger:        a.logger,
	})
	out, err := d.Deploy(ctx, m, engine.Options{
		Env:     cfg.Deploy.Env,
		Fee:     fee,
		Migrate: migrate,
		DryRun:  dryRun,
	})
	if err != nil {
		return err
	}

	for _, h := range out.Sent {
		prompt.Infof(a.errOut, "sent %s", h)
	}
	for _, h := range out.Landed {
		prompt.Infof(a.errOut, "already on chain %s", h)
	}
	return nil
}
