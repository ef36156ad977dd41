package types

import "math/big"

// Account tracks the balances held by a single marketplace participant.
// Balance is denominated in the primary currency; RewardBalance holds the
// secondary reward credit minted on successful purchases. Both are expressed
// as smallest-denomination integers.
type Account struct {
	Balance       *big.Int `json:"balance"`
	RewardBalance *big.Int `json:"rewardBalance"`
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Balance: big.NewInt(0), RewardBalance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.RewardBalance != nil {
		clone.RewardBalance = new(big.Int).Set(a.RewardBalance)
	}
	return clone
}

// Normalize ensures all balance fields are non-nil. The method returns the
// receiver to allow chaining.
func (a *Account) Normalize() *Account {
	if a == nil {
		return nil
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	if a.RewardBalance == nil {
		a.RewardBalance = big.NewInt(0)
	}
	return a
}
