package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paywall.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("expected listen :8080, got %s", cfg.Listen)
	}
	if cfg.Network() != x402.NetworkBase {
		t.Errorf("expected network base, got %s", cfg.Network())
	}
	if cfg.Timeouts != x402.DefaultTimeouts {
		t.Errorf("expected default timeouts, got %+v", cfg.Timeouts)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.SlogLevel())
	}
	if cfg.ReconcileAfter != 10*time.Minute {
		t.Errorf("expected reconcile after 10m, got %v", cfg.ReconcileAfter)
	}
	if cfg.Database.URL != "" {
		t.Errorf("expected no database, got %s", cfg.Database.URL)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
log_level: debug
default_network: solana-devnet
facilitator:
  url: https://facilitator.example.com
  fallback_url: https://backup.example.com
timeouts:
  verify: 3s
  settle: 45s
platform:
  evm_wallet: "0xccc0000000000000000000000000000000000003"
  solana_wallet: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
solana:
  rpc_url: https://api.devnet.solana.com
assets:
  base-sepolia: "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
verify_signatures: true
max_timeout_seconds: 120
mcp:
  enabled: true
`)
	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %s", cfg.Listen)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.SlogLevel())
	}
	if cfg.Network() != x402.NetworkSolanaDevnet {
		t.Errorf("expected solana-devnet, got %s", cfg.Network())
	}
	if cfg.Facilitator.FallbackURL != "https://backup.example.com" {
		t.Errorf("unexpected fallback URL %s", cfg.Facilitator.FallbackURL)
	}
	if cfg.Timeouts.VerifyTimeout != 3*time.Second {
		t.Errorf("expected verify timeout 3s, got %v", cfg.Timeouts.VerifyTimeout)
	}
	if cfg.Timeouts.SettleTimeout != 45*time.Second {
		t.Errorf("expected settle timeout 45s, got %v", cfg.Timeouts.SettleTimeout)
	}
	// Unset timeouts keep their defaults.
	if cfg.Timeouts.RequestTimeout != x402.DefaultTimeouts.RequestTimeout {
		t.Errorf("expected default request timeout, got %v", cfg.Timeouts.RequestTimeout)
	}
	if !cfg.VerifySignatures {
		t.Error("expected signature verification to be enabled")
	}
	if cfg.MaxTimeoutSeconds != 120 {
		t.Errorf("expected max timeout 120, got %d", cfg.MaxTimeoutSeconds)
	}
	if cfg.MCP.Path != "/mcp" {
		t.Errorf("expected MCP path /mcp, got %s", cfg.MCP.Path)
	}

	platform, err := cfg.PlatformRecipient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(platform) != 2 {
		t.Errorf("expected 2 platform wallets, got %d", len(platform))
	}
	evmWallet, err := address.Normalize("0xccc0000000000000000000000000000000000003", x402.FamilyEVM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if platform[x402.FamilyEVM] != evmWallet {
		t.Errorf("expected EVM platform wallet %s, got %s", evmWallet, platform[x402.FamilyEVM])
	}

	assets, err := cfg.AssetTable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain, err := assets.Chain(x402.NetworkBaseSepolia)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain.Asset != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Errorf("expected checksummed asset override, got %s", chain.Asset)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\n")
	cfg, err := LoadWithEnv(path, env(map[string]string{
		"PAYWALL_LISTEN":             ":7000",
		"PAYWALL_DATABASE_URL":       "postgres://paywall@localhost/paywall",
		"PAYWALL_VERIFY_SIGNATURES":  "true",
		"PAYWALL_DEFAULT_NETWORK":    "base-sepolia",
		"PAYWALL_CDP_API_KEY_NAME":   "organizations/o/apiKeys/k",
		"PAYWALL_CDP_API_KEY_SECRET": "secret",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Listen != ":7000" {
		t.Errorf("expected listen :7000, got %s", cfg.Listen)
	}
	if cfg.Database.URL != "postgres://paywall@localhost/paywall" {
		t.Errorf("unexpected database URL %s", cfg.Database.URL)
	}
	if !cfg.VerifySignatures {
		t.Error("expected signature verification to be enabled")
	}
	if cfg.Network() != x402.NetworkBaseSepolia {
		t.Errorf("expected base-sepolia, got %s", cfg.Network())
	}
	if cfg.Facilitator.CDPKeySecret != "secret" {
		t.Errorf("expected CDP secret from env, got %q", cfg.Facilitator.CDPKeySecret)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown network", yaml: "default_network: avalanche\n"},
		{name: "bad log level", yaml: "log_level: loud\n"},
		{name: "facilitator not a url", yaml: "facilitator:\n  url: not a url\n"},
		{name: "half a cdp key", yaml: "facilitator:\n  url: https://f.example\n  cdp_key_name: k\n"},
		{name: "settle shorter than verify", yaml: "timeouts:\n  verify: 10s\n  settle: 5s\n"},
		{name: "asset override on unknown network", yaml: "assets:\n  polygon: \"0x036cbd53842c5426634e7929541ec2318f3dcf7e\"\n"},
		{name: "solana wallet in evm slot", yaml: "platform:\n  evm_wallet: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin\n"},
		{name: "bad bool", env: map[string]string{"PAYWALL_VERIFY_SIGNATURES": "sometimes"}},
		{name: "mcp without path", yaml: "mcp:\n  enabled: true\n  path: \"\"\n"},
		{name: "malformed yaml", yaml: "listen: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := LoadWithEnv(path, env(tt.env)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil)); err == nil {
		t.Error("expected error, got nil")
	}
}
