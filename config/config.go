package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LogConfig controls file logging. An empty FilePath logs to stdout only.
type LogConfig struct {
	FilePath   string `toml:"FilePath"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// ChainConfig points the indexer at a payments deployment.
type ChainConfig struct {
	RPCEndpoint      string `toml:"RPCEndpoint"`
	PaymentsContract string `toml:"PaymentsContract"`
	StartBlock       uint64 `toml:"StartBlock"`
	Confirmations    uint64 `toml:"Confirmations"`
	PollIntervalSecs uint64 `toml:"PollIntervalSeconds"`
	BatchBlocks      uint64 `toml:"BatchBlocks"`
	CallsPerSec      uint64 `toml:"CallsPerSecond"`
}

// WebhookConfig enables outbound notifications. Both fields must be set
// together; an empty URL disables delivery.
type WebhookConfig struct {
	URL    string `toml:"URL"`
	Secret string `toml:"Secret"`
}

// TelemetryConfig points OTLP exporters at a collector. An empty endpoint
// disables telemetry.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

type Config struct {
	ListenAddress string          `toml:"ListenAddress"`
	DataDir       string          `toml:"DataDir"`
	DatabaseURL   string          `toml:"DatabaseURL"`
	ExportDir     string          `toml:"ExportDir"`
	Environment   string          `toml:"Environment"`
	Chain         ChainConfig     `toml:"Chain"`
	Log           LogConfig       `toml:"Log"`
	Webhook       WebhookConfig   `toml:"Webhook"`
	Telemetry     TelemetryConfig `toml:"Telemetry"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./railscan-data"
	}
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(c.DataDir, "exports")
	}
	if c.Environment == "" {
		c.Environment = "local"
	}
	if c.Chain.Confirmations == 0 {
		c.Chain.Confirmations = 12
	}
	if c.Chain.PollIntervalSecs == 0 {
		c.Chain.PollIntervalSecs = 6
	}
	if c.Chain.BatchBlocks == 0 {
		c.Chain.BatchBlocks = 2000
	}
	if c.Chain.CallsPerSec == 0 {
		c.Chain.CallsPerSec = 20
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./railscan-data",
		Environment:   "local",
		Chain: ChainConfig{
			RPCEndpoint:      "http://127.0.0.1:8545",
			Confirmations:    12,
			PollIntervalSecs: 6,
			BatchBlocks:      2000,
			CallsPerSec:      20,
		},
		Log: LogConfig{MaxSizeMB: 100, MaxBackups: 7},
	}
	cfg.applyDefaults()

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

	return toml.NewEncoder(f).Encode(cfg)
}
