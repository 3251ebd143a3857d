package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read from the project directory when --config is not
// given.
const DefaultConfigFile = "celldeploy.toml"

// =============================================================================
// Config Types
// =============================================================================

// Config holds all tool configuration.
type Config struct {
	Project ProjectConfig `mapstructure:"project"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

// ProjectConfig locates the project files.
type ProjectConfig struct {
	Dir           string `mapstructure:"dir"`
	Manifest      string `mapstructure:"manifest"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// ManifestPath returns the manifest path resolved against the project dir.
func (c ProjectConfig) ManifestPath() string {
	return c.resolve(c.Manifest)
}

// MigrationsPath returns the migrations dir resolved against the project dir.
func (c ProjectConfig) MigrationsPath() string {
	return c.resolve(c.MigrationsDir)
}

func (c ProjectConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// LedgerConfig holds node and keystore settings.
type LedgerConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	CKBCLI string `mapstructure:"ckb_cli"`
	// Timeout bounds each RPC call. Zero leaves it to the node.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeployConfig holds per-run defaults.
type DeployConfig struct {
	// Fee per transaction in CKB, e.g. "0.0001".
	Fee     string `mapstructure:"fee"`
	Env     string `mapstructure:"env"`
	Migrate string `mapstructure:"migrate"`
	Address string `mapstructure:"address"`
}

// FeeShannons parses Fee.
func (c DeployConfig) FeeShannons() (uint64, error) {
	fee, err := ledger.ParseCapacity(c.Fee)
	if err != nil {
		return 0, fmt.Errorf("deploy.fee: %w", err)
	}
	return fee, nil
}

// MigrateEnabled parses Migrate, which is "on" or "off".
func (c DeployConfig) MigrateEnabled() (bool, error) {
	switch strings.ToLower(c.Migrate) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("deploy.migrate must be on or off, got %q", c.Migrate)
	}
}

// HistoryConfig holds the history index settings.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"project-dir": "project.dir",
	"manifest":    "project.manifest",
	"rpc-url":     "ledger.rpc_url",
	"env":         "deploy.env",
	"fee":         "deploy.fee",
	"migrate":     "deploy.migrate",
	"address":     "deploy.address",
	"log-level":   "log.level",
}

// LoadConfig loads configuration from defaults, the config file, the
// environment and flags, in increasing precedence. flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("project.dir", ".")
	v.SetDefault("project.manifest", "deployment.toml")
	v.SetDefault("project.migrations_dir", "migrations")
	v.SetDefault("ledger.rpc_url", "http://localhost:8114")
	v.SetDefault("ledger.ckb_cli", "ckb-cli")
	v.SetDefault("ledger.timeout", "0s")
	v.SetDefault("deploy.fee", "0.0001")
	v.SetDefault("deploy.env", domain.EnvDev)
	v.SetDefault("deploy.migrate", "on")
	v.SetDefault("deploy.address", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("CELLDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	explicit := configPath != ""
	if !explicit {
		candidate := filepath.Join(v.GetString("project.dir"), DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.History.DSN == "" {
		cfg.History.DSN = filepath.Join(cfg.Project.MigrationsPath(), "history.db")
	}

	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if err := domain.ValidateEnvName(c.Deploy.Env); err != nil {
		return fmt.Errorf("deploy.env: %w", err)
	}
	if _, err := c.Deploy.FeeShannons(); err != nil {
		return err
	}
	if _, err := c.Deploy.MigrateEnabled(); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so stdout stays free for the plan.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
