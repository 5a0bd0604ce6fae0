package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from TOML. Missing files are
// created with defaults so a fresh checkout boots without manual setup.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`

	// RewardRatePerSecond is the pool emission rate in wei per second,
	// expressed as a decimal string so it survives values beyond uint64.
	// It seeds the pool at first boot only; the stored rate wins afterwards.
	RewardRatePerSecond string `toml:"RewardRatePerSecond"`

	// VaultAddress and TreasuryAddress are bech32 module accounts: the vault
	// custodies deposited stake, the treasury funds reward payouts.
	VaultAddress    string `toml:"VaultAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`

	// BoostTiers overrides the default duration boost schedule when non-empty.
	BoostTiers []BoostTier `toml:"BoostTiers"`

	// PausedModules lists module names whose mutating operations are refused.
	PausedModules []string `toml:"PausedModules"`

	APIAuth   APIAuth   `toml:"APIAuth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// BoostTier is one duration tier of the boost schedule.
type BoostTier struct {
	MinDurationSeconds int64  `toml:"MinDurationSeconds"`
	MultiplierPct      uint64 `toml:"MultiplierPct"`
}

// APIAuth configures bearer-token authentication for privileged endpoints.
type APIAuth struct {
	Enabled  bool   `toml:"Enabled"`
	Secret   string `toml:"Secret"`
	Issuer   string `toml:"Issuer"`
	Audience string `toml:"Audience"`
}

// RateLimit configures per-client request throttling on the HTTP API.
type RateLimit struct {
	Enabled           bool    `toml:"Enabled"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled     bool   `toml:"Enabled"`
	Environment string `toml:"Environment"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
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
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./stakepool-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "stakepool-local"
	}
	if strings.TrimSpace(c.RewardRatePerSecond) == "" {
		c.RewardRatePerSecond = "0"
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			c.RateLimit.RequestsPerSecond = 10
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = 20
		}
	}
}

// Validate checks the parseable fields so misconfiguration fails at boot
// rather than on the first request.
func (c *Config) Validate() error {
	if _, err := c.RewardRate(); err != nil {
		return err
	}
	for i, tier := range c.BoostTiers {
		if tier.MinDurationSeconds <= 0 {
			return fmt.Errorf("config: boost tier %d duration must be positive", i)
		}
		if tier.MultiplierPct < 100 {
			return fmt.Errorf("config: boost tier %d multiplier below base", i)
		}
	}
	if c.APIAuth.Enabled && strings.TrimSpace(c.APIAuth.Secret) == "" {
		return fmt.Errorf("config: APIAuth enabled without a secret")
	}
	return nil
}

// RewardRate parses RewardRatePerSecond into a non-negative big integer.
func (c *Config) RewardRate() (*big.Int, error) {
	raw := strings.TrimSpace(c.RewardRatePerSecond)
	if raw == "" {
		return big.NewInt(0), nil
	}
	rate, ok := new(big.Int).SetString(raw, 10)
	if !ok || rate.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid RewardRatePerSecond %q", c.RewardRatePerSecond)
	}
	return rate, nil
}

// Pauses renders PausedModules into the lookup form the engine guards expect.
func (c *Config) Pauses() map[string]bool {
	pauses := make(map[string]bool, len(c.PausedModules))
	for _, name := range c.PausedModules {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		pauses[name] = true
	}
	return pauses
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:          ":8080",
		DataDir:             "./stakepool-data",
		NetworkName:         "stakepool-local",
		RewardRatePerSecond: "0",
		PausedModules:       []string{},
	}
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
