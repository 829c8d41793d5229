// Package config loads kvsd's runtime configuration the way the teacher
// loads websocket server configuration: viper for layered defaults/env/
// file, with a caarlos0/env + godotenv pass over a narrow "secrets" slice
// (here, the NATS URL, which may embed credentials) so those never need to
// live in a checked-in config file.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the kvsd server.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Session   SessionConfig   `mapstructure:"session"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Secrets   Secrets         `mapstructure:"-"`
}

// StoreConfig sizes the sharded hash table (spec.md §3/§6 N_SHARDS).
type StoreConfig struct {
	ShardCount int `mapstructure:"shard_count"`
}

// SessionConfig sizes the session table and its per-session subscription
// capacity (spec.md §6 MAX_SESSIONS/MAX_SUBS_PER_SESSION) and names the
// registration FIFO.
type SessionConfig struct {
	MaxSessions       int    `mapstructure:"max_sessions"`
	MaxSubsPerSession int    `mapstructure:"max_subs_per_session"`
	RegisterPipePath  string `mapstructure:"register_pipe_path"`
}

// JobsConfig mirrors the server CLI's <jobs_directory> <max_threads>
// <max_backups> positional arguments (spec.md §6), overridable via config
// when the binary is run without them (e.g. under a process supervisor).
type JobsConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxThreads int    `mapstructure:"max_threads"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// RateLimitConfig tunes the registration and per-session admission
// throttles (internal/ratelimit).
type RateLimitConfig struct {
	RegistrationBurst int     `mapstructure:"registration_burst"`
	RegistrationRate  float64 `mapstructure:"registration_rate"`
	SessionBurst      int     `mapstructure:"session_burst"`
	SessionRate       float64 `mapstructure:"session_rate"`
}

// MetricsConfig controls the Prometheus /metrics and gopsutil-backed
// /health endpoints.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ListenAddr  string `mapstructure:"listen_addr"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig controls zap logger level/encoding. Encoding/OutputPaths
// default to "json"/["stdout"] for production; operators running kvsd
// interactively in a terminal (e.g. against a scratch jobs directory) can
// set encoding to "console" for human-readable output instead.
type LoggingConfig struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// AdminConfig controls the admin reset reaper (internal/admin): whether to
// install a local SIGHUP handler and whether to also bridge resets over
// NATS.
type AdminConfig struct {
	EnableSignalHandler bool `mapstructure:"enable_signal_handler"`
	EnableNATSBridge    bool `mapstructure:"enable_nats_bridge"`
}

// Secrets holds configuration values sourced strictly from the process
// environment (optionally via a .env file in development), never from a
// checked-in config file — mirrors the caarlos0/env + godotenv pattern for
// values that shouldn't round-trip through viper's file/flag layers.
type Secrets struct {
	NATSURL string `env:"KVSD_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
}

// Load reads configuration from environment variables, an optional config
// file, and a narrow secrets overlay.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("store.shard_count", 26)

	v.SetDefault("session.max_sessions", 32)
	v.SetDefault("session.max_subs_per_session", 32)
	v.SetDefault("session.register_pipe_path", "/tmp/kvsd_register")

	v.SetDefault("jobs.directory", "./jobs")
	v.SetDefault("jobs.max_threads", 4)
	v.SetDefault("jobs.max_backups", 2)

	v.SetDefault("ratelimit.registration_burst", 50)
	v.SetDefault("ratelimit.registration_rate", 20.0)
	v.SetDefault("ratelimit.session_burst", 20)
	v.SetDefault("ratelimit.session_rate", 50.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "kvsd")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})

	v.SetDefault("admin.enable_signal_handler", true)
	v.SetDefault("admin.enable_nats_bridge", false)

	v.SetConfigName("kvsd")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("KVSD")
	v.AutomaticEnv()

	// Attempt to read config file (optional).
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Store.ShardCount <= 0 {
		cfg.Store.ShardCount = 26
	}
	if cfg.Session.MaxSessions <= 0 {
		cfg.Session.MaxSessions = 32
	}
	if cfg.Session.MaxSubsPerSession <= 0 {
		cfg.Session.MaxSubsPerSession = 32
	}

	secrets, err := loadSecrets()
	if err != nil {
		return Config{}, fmt.Errorf("config secrets: %w", err)
	}
	cfg.Secrets = secrets

	return cfg, nil
}

// loadSecrets overlays a .env file (if present; ignored if absent — this is
// a development convenience, never required in production where the
// environment is set directly) and then parses Secrets via caarlos0/env.
func loadSecrets() (Secrets, error) {
	_ = godotenv.Load()

	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

