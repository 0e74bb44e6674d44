// Package config loads the processor daemon configuration from a file and
// CQRS_ prefixed environment variables.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/modelmycode/cqrs-framework/core/processor"
)

const (
	TokensNATS     = "nats"
	TokensPostgres = "postgres"
	TokensSQLite   = "sqlite"
	TokensMemory   = "memory"
)

type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Log       LogConfig       `mapstructure:"log"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type NodeConfig struct {
	// ClientID is the claim id base. Empty picks a random one.
	ClientID  string `mapstructure:"client_id"`
	Component string `mapstructure:"component"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type TokensConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Path    string `mapstructure:"path"`
}

type ProcessorConfig struct {
	Name                string        `mapstructure:"name"`
	ReplayHistory       bool          `mapstructure:"replay_history"`
	QueueHandlers       bool          `mapstructure:"queue_handlers"`
	Heartbeat           time.Duration `mapstructure:"heartbeat"`
	IdleRecheck         time.Duration `mapstructure:"idle_recheck"`
	ProcessRecheck      time.Duration `mapstructure:"process_recheck"`
	CheckpointRetries   int           `mapstructure:"checkpoint_retries"`
	CheckpointRetryStep time.Duration `mapstructure:"checkpoint_retry_step"`
	Permits             int           `mapstructure:"permits"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads path, when given, and applies environment overrides such as
// CQRS_TOKENS_BACKEND=postgres.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("cqrs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// every key needs a default so that AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	d := processor.DefaultTimings()

	v.SetDefault("node.client_id", "")
	v.SetDefault("node.component", "processor")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "EVENTS")
	v.SetDefault("nats.subject_prefix", "events")
	v.SetDefault("tokens.backend", TokensNATS)
	v.SetDefault("tokens.bucket", "processor_claims")
	v.SetDefault("tokens.dsn", "")
	v.SetDefault("tokens.table", "event-processors")
	v.SetDefault("tokens.path", "claims.db")
	v.SetDefault("processor.name", "")
	v.SetDefault("processor.replay_history", false)
	v.SetDefault("processor.queue_handlers", false)
	v.SetDefault("processor.heartbeat", d.Heartbeat)
	v.SetDefault("processor.idle_recheck", d.IdleRecheck)
	v.SetDefault("processor.process_recheck", d.ProcessRecheck)
	v.SetDefault("processor.checkpoint_retries", d.CheckpointRetries)
	v.SetDefault("processor.checkpoint_retry_step", d.CheckpointRetryStep)
	v.SetDefault("processor.permits", 64)
	v.SetDefault("metrics.addr", ":9090")
}

func (c Config) Validate() error {
	if c.Processor.Name == "" {
		return fmt.Errorf("processor.name is required")
	}
	backends := []string{TokensNATS, TokensPostgres, TokensSQLite, TokensMemory}
	if !slices.Contains(backends, c.Tokens.Backend) {
		return fmt.Errorf("tokens.backend must be one of %v, got %q", backends, c.Tokens.Backend)
	}
	if c.Tokens.Backend == TokensPostgres && c.Tokens.DSN == "" {
		return fmt.Errorf("tokens.dsn is required for the postgres backend")
	}
	if c.Processor.Heartbeat <= 0 {
		return fmt.Errorf("processor.heartbeat must be positive")
	}
	if c.Processor.CheckpointRetries < 0 {
		return fmt.Errorf("processor.checkpoint_retries must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c ProcessorConfig) Timings() processor.Timings {
	return processor.Timings{
		Heartbeat:           c.Heartbeat,
		IdleRecheck:         c.IdleRecheck,
		ProcessRecheck:      c.ProcessRecheck,
		CheckpointRetries:   c.CheckpointRetries,
		CheckpointRetryStep: c.CheckpointRetryStep,
	}
}

func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
