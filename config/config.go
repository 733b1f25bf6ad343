package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tickechain/crypto"
	"tickechain/native/lifecycle"
)

// Defaults applied to fields left empty by the config file.
const (
	DefaultRPCAddress        = ":8545"
	DefaultDataDir           = "./tkt-data"
	DefaultJWTSecretEnv      = "TKT_RPC_JWT_SECRET"
	DefaultRequestsPerMinute = 600
	DefaultBurst             = 50
	DefaultReadTimeout       = 15
	DefaultWriteTimeout      = 15
	DefaultIdleTimeout       = 60
)

type Config struct {
	DataDir    string          `toml:"DataDir" yaml:"dataDir"`
	RPCAddress string          `toml:"RPCAddress" yaml:"rpcAddress"`
	Admins     []string        `toml:"Admins" yaml:"admins"`
	Events     EventsConfig    `toml:"events" yaml:"events"`
	RPC        RPCConfig       `toml:"rpc" yaml:"rpc"`
	Logging    LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Indexer    IndexerConfig   `toml:"indexer" yaml:"indexer"`
}

// EventsConfig tunes the cancellation breaker of the event lifecycle manager.
type EventsConfig struct {
	CancellationPauseThreshold uint64 `toml:"CancellationPauseThreshold" yaml:"cancellationPauseThreshold"`
	ResetCancellationsOnResume bool   `toml:"ResetCancellationsOnResume" yaml:"resetCancellationsOnResume"`
}

type RPCConfig struct {
	// JWTSecretEnv names the environment variable holding the HS256 secret.
	JWTSecretEnv      string   `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer         string   `toml:"JWTIssuer" yaml:"jwtIssuer"`
	JWTAudience       string   `toml:"JWTAudience" yaml:"jwtAudience"`
	RequestsPerMinute float64  `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int      `toml:"Burst" yaml:"burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins" yaml:"allowedOrigins"`
	ReadTimeout       int      `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout      int      `toml:"WriteTimeout" yaml:"writeTimeout"`
	IdleTimeout       int      `toml:"IdleTimeout" yaml:"idleTimeout"`
}

type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	Env        string `toml:"Env" yaml:"env"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// IndexerConfig enables the SQL mirror of the append-only log. An empty
// driver disables it.
type IndexerConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DataDir:    DefaultDataDir,
		RPCAddress: DefaultRPCAddress,
		Admins:     []string{},
		Events: EventsConfig{
			CancellationPauseThreshold: lifecycle.DefaultCancellationPauseThreshold,
			ResetCancellationsOnResume: true,
		},
		RPC: RPCConfig{
			JWTSecretEnv:      DefaultJWTSecretEnv,
			RequestsPerMinute: DefaultRequestsPerMinute,
			Burst:             DefaultBurst,
			AllowedOrigins:    []string{},
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads the configuration from the given path. The format follows the
// file extension: .yaml and .yml are YAML, anything else is TOML. A missing
// file is created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		decoder := yaml.NewDecoder(bytes.NewReader(raw))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = DefaultRPCAddress
	}
	if cfg.Admins == nil {
		cfg.Admins = []string{}
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		cfg.RPC.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if cfg.RPC.RequestsPerMinute <= 0 {
		cfg.RPC.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = DefaultBurst
	}
	if cfg.RPC.ReadTimeout <= 0 {
		cfg.RPC.ReadTimeout = DefaultReadTimeout
	}
	if cfg.RPC.WriteTimeout <= 0 {
		cfg.RPC.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.RPC.IdleTimeout <= 0 {
		cfg.RPC.IdleTimeout = DefaultIdleTimeout
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the semantic constraints of the configuration.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := cfg.AdminAddresses(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: dsn required for driver %s", cfg.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unsupported driver %q", cfg.Indexer.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sampleRatio must be within [0, 1]")
	}
	for i, origin := range cfg.RPC.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("rpc: allowedOrigins[%d] cannot be empty", i)
		}
	}
	return nil
}

// AdminAddresses parses the configured admin identities.
func (cfg *Config) AdminAddresses() ([][20]byte, error) {
	out := make([][20]byte, 0, len(cfg.Admins))
	seen := make(map[[20]byte]struct{}, len(cfg.Admins))
	for i, raw := range cfg.Admins {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admins[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// LifecycleConfig converts the file settings into the engine configuration.
func (cfg *Config) LifecycleConfig() (lifecycle.Config, error) {
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{
		CancellationPauseThreshold: cfg.Events.CancellationPauseThreshold,
		ResetCancellationsOnResume: cfg.Events.ResetCancellationsOnResume,
		Admins:                     admins,
	}, nil
}

// JWTSecret reads the RPC signing secret from the configured environment
// variable.
func (cfg *Config) JWTSecret() string {
	return strings.TrimSpace(os.Getenv(cfg.RPC.JWTSecretEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		encoder := yaml.NewEncoder(f)
		defer encoder.Close()
		return encoder.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
