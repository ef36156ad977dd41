package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultRPCAddress = "127.0.0.1:8645"
	defaultDataDir    = "./data"
	defaultMarket     = "main"
	bpsDenominator    = 10_000
)

// Config is the operator-facing configuration of a marketd instance.
type Config struct {
	RPCAddress  string      `toml:"RPCAddress"`
	DataDir     string      `toml:"DataDir"`
	Environment string      `toml:"Environment"`
	LogFile     string      `toml:"LogFile"`
	Marketplace Marketplace `toml:"Marketplace"`
	Rewards     Rewards     `toml:"Rewards"`
}

// Marketplace configures the marketplace instance the daemon initializes and
// serves.
type Marketplace struct {
	Name   string `toml:"Name"`
	Admin  string `toml:"Admin"`
	FeeBps uint32 `toml:"FeeBps"`
}

// Rewards configures the reward-credit policy applied on every purchase.
// Amounts are base-10 strings in the smallest currency denomination.
type Rewards struct {
	RateBps  uint32 `toml:"RateBps"`
	MinSpend string `toml:"MinSpend"`
	CapPerTx string `toml:"CapPerTx"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
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
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Marketplace.Name) == "" {
		c.Marketplace.Name = defaultMarket
	}
	if strings.TrimSpace(c.Rewards.MinSpend) == "" {
		c.Rewards.MinSpend = "0"
	}
	if strings.TrimSpace(c.Rewards.CapPerTx) == "" {
		c.Rewards.CapPerTx = "0"
	}
}

// Validate checks the configuration against the protocol invariants before
// the daemon starts.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil config")
	}
	if c.Marketplace.FeeBps > bpsDenominator {
		return fmt.Errorf("marketplace fee bps must not exceed %d", bpsDenominator)
	}
	if c.Rewards.RateBps > bpsDenominator {
		return fmt.Errorf("reward rate bps must not exceed %d", bpsDenominator)
	}
	if _, err := c.AdminAddress(); err != nil {
		return err
	}
	if _, err := parseAmount(c.Rewards.MinSpend); err != nil {
		return fmt.Errorf("rewards MinSpend: %w", err)
	}
	if _, err := parseAmount(c.Rewards.CapPerTx); err != nil {
		return fmt.Errorf("rewards CapPerTx: %w", err)
	}
	return nil
}

// AdminAddress decodes the configured marketplace admin.
func (c *Config) AdminAddress() ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(c.Marketplace.Admin), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("marketplace admin address must be configured")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("marketplace admin address: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("marketplace admin address must be %d bytes", len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

// RewardMinSpend returns the parsed minimum spend threshold.
func (c *Config) RewardMinSpend() (*big.Int, error) { return parseAmount(c.Rewards.MinSpend) }

// RewardCapPerTx returns the parsed per-trade reward cap.
func (c *Config) RewardCapPerTx() (*big.Int, error) { return parseAmount(c.Rewards.CapPerTx) }

func parseAmount(v string) (*big.Int, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

// createDefault creates and saves a default configuration file. The admin
// address is intentionally left empty so the operator has to fill it in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
