package rewards

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"assetmarket/core/types"
)

type mockState struct {
	cfg      *Config
	accounts map[[20]byte]*types.Account
	totals   map[[20]byte]*big.Int
}

func newMockState(cfg *Config) *mockState {
	return &mockState{
		cfg:      cfg,
		accounts: make(map[[20]byte]*types.Account),
		totals:   make(map[[20]byte]*big.Int),
	}
}

func addrKey(addr []byte) ([20]byte, error) {
	var key [20]byte
	if len(addr) != len(key) {
		return key, fmt.Errorf("address must be %d bytes", len(key))
	}
	copy(key[:], addr)
	return key, nil
}

func (m *mockState) RewardConfig() (*Config, error) {
	return m.cfg.Clone(), nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	key, err := addrKey(addr)
	if err != nil {
		return nil, err
	}
	account, ok := m.accounts[key]
	if !ok {
		return (&types.Account{}).Normalize(), nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	key, err := addrKey(addr)
	if err != nil {
		return err
	}
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) RewardTotalAccrued(addr []byte) (*big.Int, error) {
	key, err := addrKey(addr)
	if err != nil {
		return nil, err
	}
	total, ok := m.totals[key]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(total), nil
}

func (m *mockState) SetRewardTotalAccrued(addr []byte, amount *big.Int) error {
	key, err := addrKey(addr)
	if err != nil {
		return err
	}
	m.totals[key] = new(big.Int).Set(amount)
	return nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(cfg *Config) (*Engine, *mockState, [20]byte) {
	state := newMockState(cfg)
	engine := NewEngine()
	engine.SetState(state)
	issuer := newTestAddress(0xAA)
	engine.SetIssuer(issuer)
	return engine, state, issuer
}

func TestMintCreditsRewardBalance(t *testing.T) {
	engine, state, issuer := newTestEngine(&Config{RateBps: 100, MinSpend: big.NewInt(0), CapPerTx: big.NewInt(0)})
	to := newTestAddress(0x01)

	reward, err := engine.Mint(issuer, to, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if reward.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected reward 10000, got %s", reward)
	}
	account := state.accounts[to]
	if account == nil || account.RewardBalance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected reward balance 10000")
	}
	if account.Balance.Sign() != 0 {
		t.Fatalf("minting must not touch the primary balance")
	}

	if _, err := engine.Mint(issuer, to, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("second mint: %v", err)
	}
	total, err := state.RewardTotalAccrued(to[:])
	if err != nil {
		t.Fatalf("total accrued: %v", err)
	}
	if total.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("expected total accrued 20000, got %s", total)
	}
}

func TestMintRejectsUnauthorizedIssuer(t *testing.T) {
	engine, state, _ := newTestEngine(&Config{RateBps: 100, MinSpend: big.NewInt(0), CapPerTx: big.NewInt(0)})
	to := newTestAddress(0x01)

	if _, err := engine.Mint(newTestAddress(0xBB), to, big.NewInt(1000)); !errors.Is(err, ErrUnauthorizedIssuer) {
		t.Fatalf("expected ErrUnauthorizedIssuer, got %v", err)
	}
	if len(state.accounts) != 0 {
		t.Fatalf("rejected mint must not mutate accounts")
	}

	engine.SetIssuer([20]byte{})
	if _, err := engine.Mint([20]byte{}, to, big.NewInt(1000)); !errors.Is(err, ErrUnauthorizedIssuer) {
		t.Fatalf("zero issuer must never authorize, got %v", err)
	}
}

func TestMintZeroQuoteLeavesStateUntouched(t *testing.T) {
	cases := []struct {
		name  string
		cfg   *Config
		price *big.Int
	}{
		{name: "inactive rate", cfg: &Config{RateBps: 0}, price: big.NewInt(1000)},
		{name: "below min spend", cfg: &Config{RateBps: 100, MinSpend: big.NewInt(10_000)}, price: big.NewInt(9_999)},
		{name: "rounds to zero", cfg: &Config{RateBps: 1}, price: big.NewInt(99)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, state, issuer := newTestEngine(tc.cfg)
			reward, err := engine.Mint(issuer, newTestAddress(0x01), tc.price)
			if err != nil {
				t.Fatalf("mint: %v", err)
			}
			if reward.Sign() != 0 {
				t.Fatalf("expected zero reward, got %s", reward)
			}
			if len(state.accounts) != 0 || len(state.totals) != 0 {
				t.Fatalf("zero quote must not mutate state")
			}
		})
	}
}

func TestQuoteAppliesCap(t *testing.T) {
	cfg := &Config{RateBps: 1000, MinSpend: big.NewInt(0), CapPerTx: big.NewInt(50)}
	if got := cfg.Quote(big.NewInt(10_000)); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected capped reward 50, got %s", got)
	}
	uncapped := &Config{RateBps: 1000, MinSpend: big.NewInt(0), CapPerTx: big.NewInt(0)}
	if got := uncapped.Quote(big.NewInt(10_000)); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected reward 1000, got %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{RateBps: BpsDenominator + 1}).Validate(); err == nil {
		t.Fatalf("expected error for excessive rate")
	}
	if err := (&Config{RateBps: 100, MinSpend: big.NewInt(-1)}).Validate(); err == nil {
		t.Fatalf("expected error for negative min spend")
	}
	if err := (&Config{RateBps: 100}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
