package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testContract = "0x1234567890AbcdEF1234567890aBcdef12345678"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.Chain.Confirmations != 12 || cfg.Chain.BatchBlocks != 2000 {
		t.Fatalf("chain defaults = %+v", cfg.Chain)
	}
	if cfg.ExportDir != filepath.Join(cfg.DataDir, "exports") {
		t.Fatalf("export dir = %q", cfg.ExportDir)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), "RPCEndpoint") {
		t.Fatalf("persisted config missing chain section:\n%s", raw)
	}
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := writeConfig(t, `
[Chain]
RPCEndpoint = "http://127.0.0.1:8545"
PaymentsContract = "`+testContract+`"
StartBlock = 4000000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.StartBlock != 4000000 {
		t.Fatalf("start block = %d", cfg.Chain.StartBlock)
	}
	if cfg.Chain.PollIntervalSecs != 6 || cfg.Chain.CallsPerSec != 20 {
		t.Fatalf("chain defaults = %+v", cfg.Chain)
	}
	if cfg.Environment != "local" || cfg.DataDir != "./railscan-data" {
		t.Fatalf("top-level defaults = %+v", cfg)
	}
}

func TestLoadRejectsMissingContract(t *testing.T) {
	path := writeConfig(t, `
[Chain]
RPCEndpoint = "http://127.0.0.1:8545"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing PaymentsContract")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Chain: ChainConfig{
				RPCEndpoint:      "http://127.0.0.1:8545",
				PaymentsContract: testContract,
				BatchBlocks:      2000,
			},
		}
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Chain.RPCEndpoint = " " }, wantErr: true},
		{name: "bad contract", mutate: func(c *Config) { c.Chain.PaymentsContract = "not-an-address" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Chain.BatchBlocks = 0 }, wantErr: true},
		{name: "file log without size", mutate: func(c *Config) { c.Log.FilePath = "/var/log/railscan.log" }, wantErr: true},
		{name: "file log with size", mutate: func(c *Config) {
			c.Log.FilePath = "/var/log/railscan.log"
			c.Log.MaxSizeMB = 50
		}},
		{name: "webhook without secret", mutate: func(c *Config) { c.Webhook.URL = "https://example.com/hook" }, wantErr: true},
		{name: "webhook with secret", mutate: func(c *Config) {
			c.Webhook.URL = "https://example.com/hook"
			c.Webhook.Secret = "s3cret"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPaymentsAddress(t *testing.T) {
	cfg := &Config{Chain: ChainConfig{PaymentsContract: "  " + testContract + "  "}}
	want := common.HexToAddress(testContract)
	if got := cfg.PaymentsAddress(); got != want {
		t.Fatalf("payments address = %s, want %s", got.Hex(), want.Hex())
	}
}
