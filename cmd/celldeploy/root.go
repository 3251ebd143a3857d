package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/engine"
	"github.com/artpar/celldeploy/internal/shell/store"
	"github.com/spf13/cobra"
)

// app carries what every command needs once flags are parsed.
type app struct {
	in     *os.File
	out    io.Writer
	errOut io.Writer

	configPath string
	cfg        *Config
	logger     *slog.Logger
}

// NewRootCmd creates the celldeploy command tree.
func NewRootCmd(in *os.File, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "celldeploy",
		Short: "Deploy contract cells and dep groups incrementally.",
		Long: `celldeploy deploys the cells and dep groups declared in a deployment manifest.

Every completed deployment is recorded under <migrations>/<env>/. The next run
compares the manifest against the latest record and only rebuilds what
changed, keeping the type id of upgradeable cells stable.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "tool config file (default <project-dir>/"+DefaultConfigFile+" if present)")
	pf.String("project-dir", ".", "project directory")
	pf.String("manifest", "deployment.toml", "deployment manifest, relative to the project directory")
	pf.String("rpc-url", "http://localhost:8114", "node RPC endpoint")
	pf.String("env", domain.EnvDev, "migration environment: dev or production")
	pf.String("log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newDeployCmd(a),
		newPlanCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath, cmd.Flags())
	if err != nil {
		return &usageError{err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.errOut)
	slog.SetDefault(a.logger)
	a.logger.Debug("configuration loaded",
		"project_dir", cfg.Project.Dir,
		"env", cfg.Deploy.Env,
		"rpc_url", cfg.Ledger.RPCURL)
	return nil
}

// openHistory opens the history index, creating its directory.
func (a *app) openHistory() (*store.SQLiteStore, error) {
	dsn := a.cfg.History.DSN
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, store.NewStoreError("open_history", "", dsn, err.Error(), store.ErrConnectionFailed)
		}
	}
	return store.NewSQLiteStore(dsn)
}

// deployer wires an engine for commands that need no ledger access.
func (a *app) deployer(history store.Store) *engine.Deployer {
	return engine.New(engine.Config{
		MigrationsDir: a.cfg.Project.MigrationsPath(),
		History:       history,
		Out:           a.out,
		Logger:        a.logger,
	})
}

// manifestVars exposes the process environment to manifest placeholders.
func manifestVars() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}
