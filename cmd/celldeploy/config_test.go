package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Project.Dir)
	assert.Equal(t, "deployment.toml", cfg.Project.ManifestPath())
	assert.Equal(t, "migrations", cfg.Project.MigrationsPath())
	assert.Equal(t, "http://localhost:8114", cfg.Ledger.RPCURL)
	assert.Equal(t, "ckb-cli", cfg.Ledger.CKBCLI)
	assert.Zero(t, cfg.Ledger.Timeout)
	assert.Equal(t, "dev", cfg.Deploy.Env)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, filepath.Join("migrations", "history.db"), cfg.History.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	fee, err := cfg.Deploy.FeeShannons()
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), fee)
	migrate, err := cfg.Deploy.MigrateEnabled()
	require.NoError(t, err)
	assert.True(t, migrate)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
[project]
dir = "/srv/contracts"
migrations_dir = "/var/lib/celldeploy"

[ledger]
rpc_url = "https://testnet.ckb.dev"
timeout = "45s"

[deploy]
fee = "0.001"
env = "production"
migrate = "off"

[log]
level = "debug"
format = "json"
`
	tmpFile := filepath.Join(t.TempDir(), "celldeploy.toml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/contracts/deployment.toml", cfg.Project.ManifestPath())
	assert.Equal(t, "/var/lib/celldeploy", cfg.Project.MigrationsPath())
	assert.Equal(t, "/var/lib/celldeploy/history.db", cfg.History.DSN)
	assert.Equal(t, "https://testnet.ckb.dev", cfg.Ledger.RPCURL)
	assert.Equal(t, 45*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "production", cfg.Deploy.Env)
	assert.Equal(t, "debug", cfg.Log.Level)

	fee, err := cfg.Deploy.FeeShannons()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), fee)
	migrate, err := cfg.Deploy.MigrateEnabled()
	require.NoError(t, err)
	assert.False(t, migrate)
}

func TestLoadConfig_DefaultFileInProjectDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("[deploy]\nenv = \"production\"\n"), 0644))
	t.Setenv("CELLDEPLOY_PROJECT_DIR", dir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Deploy.Env)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CELLDEPLOY_LEDGER_RPC_URL", "http://10.0.0.2:8114")
	t.Setenv("CELLDEPLOY_DEPLOY_ENV", "production")
	t.Setenv("CELLDEPLOY_HISTORY_DSN", "/custom/history.db")
	t.Setenv("CELLDEPLOY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:8114", cfg.Ledger.RPCURL)
	assert.Equal(t, "production", cfg.Deploy.Env)
	assert.Equal(t, "/custom/history.db", cfg.History.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELLDEPLOY_DEPLOY_FEE", "0.5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("fee", "0.0001", "")
	flags.String("env", "dev", "")
	require.NoError(t, flags.Parse([]string{"--fee", "0.002"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "0.002", cfg.Deploy.Fee)
	assert.Equal(t, "dev", cfg.Deploy.Env, "unchanged flags keep their default")
}

func TestLoadConfig_ExplicitFileNotFound(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig("/nonexistent/path/celldeploy.toml", nil)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("[deploy\nfee = "), 0644))

	_, err := LoadConfig(tmpFile, nil)
	assert.Error(t, err)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		deploy  DeployConfig
		wantErr string
	}{
		{"valid", DeployConfig{Env: "dev", Fee: "0.0001", Migrate: "on"}, ""},
		{"bad env", DeployConfig{Env: "staging/..", Fee: "0.0001", Migrate: "on"}, "deploy.env"},
		{"bad fee", DeployConfig{Env: "dev", Fee: "0.000000001", Migrate: "on"}, "deploy.fee"},
		{"bad migrate", DeployConfig{Env: "dev", Fee: "0.0001", Migrate: "maybe"}, "deploy.migrate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Deploy: tt.deploy}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"invalid", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: "text"}}, &buf)
			logger.Debug("debug line")
			logger.Info("info line")
			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("debug line")))
			assert.Equal(t, tt.infoSeen, bytes.Contains(buf.Bytes(), []byte("info line")))
		})
	}
}

func TestSetupLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: "json"}}, &buf)
	logger.Info("hello", "env", "dev")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"env":"dev"`)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CELLDEPLOY_PROJECT_DIR",
		"CELLDEPLOY_PROJECT_MANIFEST",
		"CELLDEPLOY_PROJECT_MIGRATIONS_DIR",
		"CELLDEPLOY_LEDGER_RPC_URL",
		"CELLDEPLOY_LEDGER_TIMEOUT",
		"CELLDEPLOY_DEPLOY_FEE",
		"CELLDEPLOY_DEPLOY_ENV",
		"CELLDEPLOY_DEPLOY_MIGRATE",
		"CELLDEPLOY_DEPLOY_ADDRESS",
		"CELLDEPLOY_HISTORY_ENABLED",
		"CELLDEPLOY_HISTORY_DSN",
		"CELLDEPLOY_LOG_LEVEL",
		"CELLDEPLOY_LOG_FORMAT",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
