package rewards

import (
	"fmt"
	"math/big"
)

// BpsDenominator is the parts-per-ten-thousand denominator used for the
// reward rate.
const BpsDenominator = 10_000

// Config controls the behaviour of the reward-credit engine.
//
// All monetary values are expressed in the smallest denomination of the
// primary currency.
type Config struct {
	// RateBps is the reward accrual rate in basis points of the trade price.
	RateBps uint32
	// MinSpend is the smallest trade price that accrues a reward.
	MinSpend *big.Int
	// CapPerTx bounds the reward minted for a single trade. Zero disables
	// the cap.
	CapPerTx *big.Int
}

// Clone produces a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{RateBps: c.RateBps}
	if c.MinSpend != nil {
		clone.MinSpend = new(big.Int).Set(c.MinSpend)
	}
	if c.CapPerTx != nil {
		clone.CapPerTx = new(big.Int).Set(c.CapPerTx)
	}
	return clone
}

// Normalize ensures all pointer fields are non-nil and non-negative. The
// method returns the receiver to allow chaining.
func (c *Config) Normalize() *Config {
	if c == nil {
		return nil
	}
	if c.MinSpend == nil || c.MinSpend.Sign() < 0 {
		c.MinSpend = big.NewInt(0)
	}
	if c.CapPerTx == nil || c.CapPerTx.Sign() < 0 {
		c.CapPerTx = big.NewInt(0)
	}
	return c
}

// Validate performs static validation of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil rewards config")
	}
	if c.RateBps > BpsDenominator {
		return fmt.Errorf("rateBps must not exceed %d", BpsDenominator)
	}
	if c.MinSpend != nil && c.MinSpend.Sign() < 0 {
		return fmt.Errorf("minSpend must not be negative")
	}
	if c.CapPerTx != nil && c.CapPerTx.Sign() < 0 {
		return fmt.Errorf("capPerTx must not be negative")
	}
	return nil
}

// Quote returns the reward that the configuration yields for the supplied
// trade price, before authorization checks. Prices below MinSpend yield zero.
func (c *Config) Quote(price *big.Int) *big.Int {
	if c == nil || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	normalized := c.Clone().Normalize()
	if normalized.RateBps == 0 {
		return big.NewInt(0)
	}
	if normalized.MinSpend.Sign() > 0 && price.Cmp(normalized.MinSpend) < 0 {
		return big.NewInt(0)
	}
	reward := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(normalized.RateBps)))
	reward.Quo(reward, big.NewInt(BpsDenominator))
	if normalized.CapPerTx.Sign() > 0 && reward.Cmp(normalized.CapPerTx) > 0 {
		reward = new(big.Int).Set(normalized.CapPerTx)
	}
	return reward
}
