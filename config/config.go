// Package config loads the paywall daemon configuration from YAML with
// PAYWALL_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
	"github.com/quillwire/x402-settle/settlement"
	"github.com/quillwire/x402-settle/validation"
)

// Config is the full daemon configuration.
type Config struct {
	Listen         string `yaml:"listen" validate:"required"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
	DefaultNetwork string `yaml:"default_network" validate:"required,x402network"`

	Facilitator FacilitatorConfig  `yaml:"facilitator"`
	Timeouts    x402.TimeoutConfig `yaml:"timeouts"`
	Platform    PlatformConfig     `yaml:"platform"`
	Database    DatabaseConfig     `yaml:"database"`
	Solana      SolanaConfig       `yaml:"solana"`
	MCP         MCPConfig          `yaml:"mcp"`

	// CatalogPath is a YAML file of articles and author wallets.
	CatalogPath string `yaml:"catalog_path"`

	// Assets overrides the USDC contract or mint per network.
	Assets map[string]string `yaml:"assets"`

	// VerifySignatures recovers the EIP-3009 signer locally before verify.
	VerifySignatures bool `yaml:"verify_signatures"`

	// MaxTimeoutSeconds is placed in every requirement; 0 keeps the default.
	MaxTimeoutSeconds int `yaml:"max_timeout_seconds" validate:"gte=0"`

	// ReconcileAfter is the age after which a pending reservation is reported
	// as needing reconciliation.
	ReconcileAfter time.Duration `yaml:"reconcile_after" validate:"gte=0"`
}

type FacilitatorConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	FallbackURL string `yaml:"fallback_url" validate:"omitempty,url"`

	// Authorization is a static Authorization header value.
	Authorization string `yaml:"authorization"`

	// CDPKeyName and CDPKeySecret enable Coinbase CDP JWT authentication and
	// take precedence over Authorization.
	CDPKeyName   string `yaml:"cdp_key_name" validate:"required_with=CDPKeySecret"`
	CDPKeySecret string `yaml:"cdp_key_secret" validate:"required_with=CDPKeyName"`
}

// PlatformConfig holds the wallets that receive tips and donations.
type PlatformConfig struct {
	EVMWallet    string `yaml:"evm_wallet"`
	SolanaWallet string `yaml:"solana_wallet"`
}

// DatabaseConfig selects the ledger. An empty URL keeps payments in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type SolanaConfig struct {
	// RPCURL is used to resolve token accounts to their owners.
	RPCURL string `yaml:"rpc_url" validate:"omitempty,url"`
}

type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		LogLevel:       "info",
		DefaultNetwork: string(x402.NetworkBase),
		Facilitator:    FacilitatorConfig{URL: "https://x402.org/facilitator"},
		Timeouts:       x402.DefaultTimeouts,
		MCP:            MCPConfig{Path: "/mcp"},
		ReconcileAfter: 10 * time.Minute,
	}
}

// Load reads path, applies PAYWALL_* environment overrides and validates the
// result. An empty path loads defaults and the environment only.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.Timeouts = cfg.Timeouts.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PAYWALL_LISTEN":                   &c.Listen,
		"PAYWALL_LOG_LEVEL":                &c.LogLevel,
		"PAYWALL_DEFAULT_NETWORK":          &c.DefaultNetwork,
		"PAYWALL_FACILITATOR_URL":          &c.Facilitator.URL,
		"PAYWALL_FALLBACK_FACILITATOR_URL": &c.Facilitator.FallbackURL,
		"PAYWALL_FACILITATOR_AUTH":         &c.Facilitator.Authorization,
		"PAYWALL_CDP_API_KEY_NAME":         &c.Facilitator.CDPKeyName,
		"PAYWALL_CDP_API_KEY_SECRET":       &c.Facilitator.CDPKeySecret,
		"PAYWALL_DATABASE_URL":             &c.Database.URL,
		"PAYWALL_SOLANA_RPC_URL":           &c.Solana.RPCURL,
		"PAYWALL_CATALOG":                  &c.CatalogPath,
		"PAYWALL_PLATFORM_EVM_WALLET":      &c.Platform.EVMWallet,
		"PAYWALL_PLATFORM_SOLANA_WALLET":   &c.Platform.SolanaWallet,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("PAYWALL_VERIFY_SIGNATURES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAYWALL_VERIFY_SIGNATURES: %w", err)
		}
		c.VerifySignatures = b
	}
	if v, ok := lookup("PAYWALL_MCP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAYWALL_MCP_ENABLED: %w", err)
		}
		c.MCP.Enabled = b
	}
	return nil
}

// Validate checks struct tags, timeouts, asset overrides and platform wallets.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.AssetTable(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.PlatformRecipient(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Network returns the parsed default network.
func (c *Config) Network() x402.Network {
	n, _ := x402.ParseNetwork(c.DefaultNetwork)
	return n
}

// AssetTable builds the asset table with overrides applied.
func (c *Config) AssetTable() (*x402.AssetTable, error) {
	return x402.NewAssetTable(c.Assets, address.Check)
}

// PlatformRecipient returns the normalized platform wallets. A family without
// a wallet cannot receive tips or donations.
func (c *Config) PlatformRecipient() (settlement.FixedRecipient, error) {
	wallets := make(map[x402.NetworkFamily]string)
	if c.Platform.EVMWallet != "" {
		wallets[x402.FamilyEVM] = c.Platform.EVMWallet
	}
	if c.Platform.SolanaWallet != "" {
		wallets[x402.FamilySolana] = c.Platform.SolanaWallet
	}
	return settlement.NewFixedRecipient(wallets)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
