package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/core/processor"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("CQRS_TOKENS_BACKEND", "sqlite")
	t.Setenv("CQRS_PROCESSOR_HEARTBEAT", "2s")

	path := writeFile(t, "processord.yaml", `
node:
  client_id: node-1
processor:
  name: audit
  replay_history: true
  idle_recheck: 5s
tokens:
  backend: nats
  path: /var/lib/claims.db
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.Node.ClientID)
	require.Equal(t, "processor", cfg.Node.Component)
	require.Equal(t, "audit", cfg.Processor.Name)
	require.True(t, cfg.Processor.ReplayHistory)
	require.Equal(t, TokensSQLite, cfg.Tokens.Backend, "env overrides file")
	require.Equal(t, "/var/lib/claims.db", cfg.Tokens.Path)

	timings := cfg.Processor.Timings()
	require.Equal(t, 2*time.Second, timings.Heartbeat)
	require.Equal(t, 5*time.Second, timings.IdleRecheck)
	require.Equal(t, processor.DefaultProcessRecheck, timings.ProcessRecheck)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "processord.toml", `
[processor]
name = "billing"
queue_handlers = true

[tokens]
backend = "postgres"
dsn = "postgres://localhost/claims"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Processor.QueueHandlers)
	require.Equal(t, "postgres://localhost/claims", cfg.Tokens.DSN)
	require.Equal(t, "event-processors", cfg.Tokens.Table)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.Equal(t, processor.DefaultTimings(), cfg.Processor.Timings())
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("CQRS_PROCESSOR_NAME", "projections")
	t.Setenv("CQRS_TOKENS_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "projections", cfg.Processor.Name)
	require.Equal(t, TokensMemory, cfg.Tokens.Backend)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(writeFile(t, "ok.yaml", "processor:\n  name: p\n"))
		require.NoError(t, err)
		return cfg
	}

	for name, mutate := range map[string]func(*Config){
		"missing name":     func(c *Config) { c.Processor.Name = "" },
		"unknown backend":  func(c *Config) { c.Tokens.Backend = "redis" },
		"postgres no dsn":  func(c *Config) { c.Tokens.Backend = TokensPostgres },
		"zero heartbeat":   func(c *Config) { c.Processor.Heartbeat = 0 },
		"negative retries": func(c *Config) { c.Processor.CheckpointRetries = -1 },
		"bad log level":    func(c *Config) { c.Log.Level = "loud" },
		"bad log format":   func(c *Config) { c.Log.Format = "xml" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			require.NoError(t, cfg.Validate())
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
