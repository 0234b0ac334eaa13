package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
)

// maxCoinbaseTagLen is the user-tag length bound spec.md §9 enforces at
// config load, matching internal/coordinator's ExtendedExtranonce R1 budget.
const maxCoinbaseTagLen = 8

// MiningServerConfig is the `[mining_server]` TOML table (spec.md §6).
type MiningServerConfig struct {
	ListeningPort           uint16  `toml:"listening_port"`
	PubKey                  string  `toml:"pub_key"`
	PrivKey                 string  `toml:"priv_key"`
	CertValidity            uint64  `toml:"cert_validity"`
	InactivityLimit         uint64  `toml:"inactivity_limit"`
	CoinbaseOutputAddress   string  `toml:"coinbase_output_address"`
	CoinbaseTag             string  `toml:"coinbase_tag"`
	ShareBatchSize          uint32  `toml:"share_batch_size"`
	ExpectedSharesPerMinute float32 `toml:"expected_shares_per_minute"`
	MaxAdditionalSize       uint32  `toml:"max_additional_size"`
	MaxAdditionalSigops     uint16  `toml:"max_additional_sigops"`
}

// TemplateDistributionConfig is the `[template_distribution]` TOML table.
type TemplateDistributionConfig struct {
	ServerAddr string `toml:"server_addr"`
	AuthPK     string `toml:"auth_pk"`
}

// WebConfig is the `[web]` TOML table.
type WebConfig struct {
	ListeningPort uint16 `toml:"listening_port"`
}

// Config is the single keyed configuration file spec.md §6 describes.
type Config struct {
	MiningServer         MiningServerConfig         `toml:"mining_server"`
	TemplateDistribution TemplateDistributionConfig `toml:"template_distribution"`
	Web                  WebConfig                  `toml:"web"`
}

// Load reads, parses, env-overrides and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environment variables win over
// TOML-loaded values, matching the teacher's getEnv-over-hardcoded-default
// convention in cmd/stratum/main.go.
func applyEnvOverrides(cfg *Config) {
	cfg.MiningServer.ListeningPort = uint16(GetEnvInt("PLEBLOTTERY_LISTEN_PORT", int(cfg.MiningServer.ListeningPort)))
	cfg.Web.ListeningPort = uint16(GetEnvInt("PLEBLOTTERY_WEB_PORT", int(cfg.Web.ListeningPort)))
	cfg.TemplateDistribution.ServerAddr = GetEnv("PLEBLOTTERY_TD_SERVER_ADDR", cfg.TemplateDistribution.ServerAddr)
	cfg.MiningServer.CoinbaseOutputAddress = GetEnv("PLEBLOTTERY_COINBASE_ADDRESS", cfg.MiningServer.CoinbaseOutputAddress)
}

// Validate checks the invariants spec.md §6 names: an 8-character coinbase
// tag bound and a coinbase_output_address that parses to a real script.
func (c *Config) Validate() error {
	if len(c.MiningServer.CoinbaseTag) > maxCoinbaseTagLen {
		return fmt.Errorf("coinbase_tag %q exceeds %d characters", c.MiningServer.CoinbaseTag, maxCoinbaseTagLen)
	}
	if c.MiningServer.CoinbaseOutputAddress == "" {
		return fmt.Errorf("coinbase_output_address is required")
	}
	if _, err := bitcoin.AddressToScript(c.MiningServer.CoinbaseOutputAddress); err != nil {
		return fmt.Errorf("coinbase_output_address: %w", err)
	}
	if c.MiningServer.ShareBatchSize == 0 {
		return fmt.Errorf("share_batch_size must be greater than zero")
	}
	if c.MiningServer.ListeningPort == 0 {
		return fmt.Errorf("mining_server.listening_port is required")
	}
	return nil
}

// DestinationScript resolves coinbase_output_address into an output script.
// Callers must have already run Validate, which rejects addresses that
// would make this return an error.
func (c *Config) DestinationScript() ([]byte, error) {
	return bitcoin.AddressToScript(c.MiningServer.CoinbaseOutputAddress)
}
