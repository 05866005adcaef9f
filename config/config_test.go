package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
ListenAddress = ":9000"
Backend = "memory"

[Exchange]
Operator = "0x00000000000000000000000000000000000000aa"
Owner = "0x00000000000000000000000000000000000000bb"
ForcedRequestFee = "1000000"
TreeDepth = 28
TokenBits = 10
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.Backend != "memory" {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
	if cfg.ForcedFee().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("unexpected forced fee: %s", cfg.ForcedFee())
	}
	// Omitted fields pick up defaults.
	if cfg.DataDir == "" || cfg.NetworkName == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.DepositMaxAge() != 15*24*time.Hour {
		t.Fatalf("unexpected deposit max age: %s", cfg.DepositMaxAge())
	}
	if cfg.ShutdownGrace() != 28*24*time.Hour {
		t.Fatalf("unexpected shutdown grace: %s", cfg.ShutdownGrace())
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not created: %v", err)
	}
	// The created file loads cleanly on the next start.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload default: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.Backend = "sqlite" },
		"operator":  func(c *Config) { c.Exchange.Operator = "not-an-address" },
		"owner":     func(c *Config) { c.Exchange.Owner = "" },
		"fee":       func(c *Config) { c.Exchange.ForcedRequestFee = "1.5" },
		"depth":     func(c *Config) { c.Exchange.TreeDepth = 49 },
		"tokenBits": func(c *Config) { c.Exchange.TokenBits = 30 },
		"tokens": func(c *Config) {
			c.Exchange.TokenBits = 2
			c.Exchange.TreeDepth = 10
			c.Exchange.MaxNumTokens = 5
		},
		"root": func(c *Config) { c.Exchange.GenesisRoot = "0x1234" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "ListenAddress = [unterminated"))
	if err == nil {
		t.Fatalf("expected decode error")
	}
}
