// Package config loads execcore's runtime configuration from environment
// variables, an optional YAML file, and a .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sandboxlabs/execcore/internal/check"
)

// Config is execcore's full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Job       JobConfig       `mapstructure:"job"`
	PTY       PTYConfig       `mapstructure:"pty"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains the orchestrator's HTTP/WebSocket listener settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

// ExecutionConfig carries the resource ceilings applied to every submitted
// job, the per-request defaults a client may not exceed.
type ExecutionConfig struct {
	TimeoutSec            int   `mapstructure:"timeout_sec"`
	CompilationTimeoutSec int   `mapstructure:"compilation_timeout_sec"`
	MaxMemoryMiB          int64 `mapstructure:"max_memory_mib"`
	MaxFileSizeMiB        int64 `mapstructure:"max_file_size_mib"`
	MaxCodeBytes          int64 `mapstructure:"max_code_bytes"`
	MaxOpenFiles          int   `mapstructure:"max_open_files"`
}

// JobConfig controls job and token lifetimes in the job store.
type JobConfig struct {
	TTLSec      int `mapstructure:"ttl_sec"`
	TokenTTLSec int `mapstructure:"token_ttl_sec"`
}

// PTYConfig tunes how the executor drains a sandboxed process's
// pseudoterminal.
type PTYConfig struct {
	ChunkBytes     int `mapstructure:"chunk_bytes"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// SandboxConfig points at the external sandbox wrapper binary and its
// seccomp/resource profile.
type SandboxConfig struct {
	Binary  string `mapstructure:"binary"`
	Profile string `mapstructure:"profile"`
}

// BackendConfig selects the backing store used for the job store and
// message bus: "local" for a single-process deployment, "redis" for a
// horizontally scaled one.
type BackendConfig struct {
	Kind string `mapstructure:"kind"`
}

// RedisConfig carries connection settings used when BackendConfig.Kind is
// "redis".
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig bounds how many execution requests a single remote
// address may start per window.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig controls the process-wide log level. Pretty is decoded from
// configuration but nothing applies it; log output is always JSON lines.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads execcore's configuration from, in order of increasing
// precedence: built-in defaults, an optional YAML config file, and
// EXECCORE_-prefixed environment variables. A .env file in the working
// directory is loaded first, if present, to populate the environment for
// local development.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("EXECCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./execcore.yaml",
		"./execcore.yml",
		"./config/execcore.yaml",
		"/etc/execcore/execcore.yaml",
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		break
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate rejects combinations that would silently misbehave rather than
// fail fast, such as a redis backend with no configured address.
func (c Config) validate() error {
	chk := check.New()
	chk.Assert(c.Backend.Kind == "local" || c.Backend.Kind == "redis",
		fmt.Sprintf("backend.kind must be \"local\" or \"redis\", got %q", c.Backend.Kind))
	chk.Assert(c.Backend.Kind != "redis" || c.Redis.Address != "",
		"redis.address is required when backend.kind is \"redis\"")
	chk.Assert(c.Sandbox.Binary != "", "sandbox.binary is required")
	return chk.Err()
}

func loadEnvFile() error {
	locations := []string{".env", ".env.local"}
	for _, location := range locations {
		if _, err := os.Stat(location); err != nil {
			continue
		}
		if err := godotenv.Load(location); err != nil {
			return fmt.Errorf("load %s: %w", location, err)
		}
		return nil
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":8443")
	viper.SetDefault("server.tls_cert", "")
	viper.SetDefault("server.tls_key", "")

	viper.SetDefault("execution.timeout_sec", 7)
	viper.SetDefault("execution.compilation_timeout_sec", 10)
	viper.SetDefault("execution.max_memory_mib", 300)
	viper.SetDefault("execution.max_file_size_mib", 1)
	viper.SetDefault("execution.max_code_bytes", 10240)
	viper.SetDefault("execution.max_open_files", 64)

	viper.SetDefault("job.ttl_sec", 3600)
	viper.SetDefault("job.token_ttl_sec", 120)

	viper.SetDefault("pty.chunk_bytes", 4096)
	viper.SetDefault("pty.poll_interval_ms", 10)

	viper.SetDefault("sandbox.binary", "/usr/local/bin/execcore-sandbox")
	viper.SetDefault("sandbox.profile", "/etc/execcore/sandbox.json")

	viper.SetDefault("backend.kind", "local")

	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("rate_limit.requests_per_minute", 30)
	viper.SetDefault("rate_limit.burst", 10)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.address", ":9090")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)
}
