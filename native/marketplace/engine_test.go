package marketplace

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"assetmarket/core/events"
	"assetmarket/core/types"
	"assetmarket/native/assets"
	"assetmarket/native/rewards"
)

type mockState struct {
	markets       map[string]*Config
	listings      map[[32]byte]*Listing
	listingByAsst map[[32]byte][32]byte
	seqs          map[string]uint64
	receipts      map[string]*Receipt
	accounts      map[[20]byte]*types.Account
	assets        map[[32]byte]*assets.Asset
	rewardCfg     *rewards.Config
	rewardTotals  map[[20]byte]*big.Int
	snapshots     []*mockState
}

func newMockState() *mockState {
	return &mockState{
		markets:       make(map[string]*Config),
		listings:      make(map[[32]byte]*Listing),
		listingByAsst: make(map[[32]byte][32]byte),
		seqs:          make(map[string]uint64),
		receipts:      make(map[string]*Receipt),
		accounts:      make(map[[20]byte]*types.Account),
		assets:        make(map[[32]byte]*assets.Asset),
		rewardCfg:     &rewards.Config{RateBps: 0, MinSpend: big.NewInt(0), CapPerTx: big.NewInt(0)},
		rewardTotals:  make(map[[20]byte]*big.Int),
	}
}

func (m *mockState) copy() *mockState {
	dup := newMockState()
	for k, v := range m.markets {
		dup.markets[k] = v.Clone()
	}
	for k, v := range m.listings {
		dup.listings[k] = v.Clone()
	}
	for k, v := range m.listingByAsst {
		dup.listingByAsst[k] = v
	}
	for k, v := range m.seqs {
		dup.seqs[k] = v
	}
	for k, v := range m.receipts {
		dup.receipts[k] = v.Clone()
	}
	for k, v := range m.accounts {
		dup.accounts[k] = v.Clone()
	}
	for k, v := range m.assets {
		dup.assets[k] = v.Clone()
	}
	dup.rewardCfg = m.rewardCfg.Clone()
	for k, v := range m.rewardTotals {
		dup.rewardTotals[k] = new(big.Int).Set(v)
	}
	return dup
}

func (m *mockState) restore(src *mockState) {
	m.markets = src.markets
	m.listings = src.listings
	m.listingByAsst = src.listingByAsst
	m.seqs = src.seqs
	m.receipts = src.receipts
	m.accounts = src.accounts
	m.assets = src.assets
	m.rewardCfg = src.rewardCfg
	m.rewardTotals = src.rewardTotals
}

func (m *mockState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.copy())
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	m.restore(m.snapshots[id])
	m.snapshots = m.snapshots[:id]
}

func (m *mockState) MarketConfigPut(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	m.markets[cfg.Name] = cfg.Clone()
	return nil
}

func (m *mockState) MarketConfigGet(name string) (*Config, bool) {
	cfg, ok := m.markets[name]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

func (m *mockState) ListingPut(listing *Listing) error {
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return err
	}
	m.listings[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(id [32]byte) (*Listing, bool) {
	listing, ok := m.listings[id]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

func (m *mockState) ListingDelete(id [32]byte) error {
	delete(m.listings, id)
	return nil
}

func (m *mockState) ListingIDByAsset(assetID [32]byte) ([32]byte, bool, error) {
	id, ok := m.listingByAsst[assetID]
	return id, ok, nil
}

func (m *mockState) ListingIndexAsset(assetID, listingID [32]byte) error {
	if existing, ok := m.listingByAsst[assetID]; ok && existing != listingID {
		return fmt.Errorf("asset already indexed")
	}
	m.listingByAsst[assetID] = listingID
	return nil
}

func (m *mockState) ListingRemoveByAsset(assetID [32]byte) error {
	delete(m.listingByAsst, assetID)
	return nil
}

func (m *mockState) ListingNextSeq(name string) (uint64, error) {
	seq := m.seqs[name]
	m.seqs[name] = seq + 1
	return seq, nil
}

func (m *mockState) ReceiptPut(receipt *Receipt) error {
	if receipt == nil {
		return fmt.Errorf("nil receipt")
	}
	m.receipts[receipt.ID] = receipt.Clone()
	return nil
}

func (m *mockState) ReceiptGet(id string) (*Receipt, bool) {
	receipt, ok := m.receipts[id]
	if !ok {
		return nil, false
	}
	return receipt.Clone(), true
}

func addrKey(addr []byte) ([20]byte, error) {
	var key [20]byte
	if len(addr) != len(key) {
		return key, fmt.Errorf("address must be %d bytes", len(key))
	}
	copy(key[:], addr)
	return key, nil
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
	if account == nil {
		return fmt.Errorf("nil account")
	}
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) AssetPut(asset *assets.Asset) error {
	if asset == nil {
		return fmt.Errorf("nil asset")
	}
	m.assets[asset.ID] = asset.Clone()
	return nil
}

func (m *mockState) AssetGet(id [32]byte) (*assets.Asset, bool) {
	asset, ok := m.assets[id]
	if !ok {
		return nil, false
	}
	return asset.Clone(), true
}

func (m *mockState) RewardConfig() (*rewards.Config, error) {
	return m.rewardCfg.Clone(), nil
}

func (m *mockState) RewardTotalAccrued(addr []byte) (*big.Int, error) {
	key, err := addrKey(addr)
	if err != nil {
		return nil, err
	}
	total, ok := m.rewardTotals[key]
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
	if amount == nil {
		amount = big.NewInt(0)
	}
	m.rewardTotals[key] = new(big.Int).Set(amount)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestHash(fill byte) [32]byte {
	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{fill}, 32))
	return hash
}

type testFixture struct {
	engine  *Engine
	ledger  *assets.Ledger
	rewards *rewards.Engine
	state   *mockState
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	state := newMockState()
	ledger := assets.NewLedger()
	ledger.SetState(state)
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })
	rewardEngine := rewards.NewEngine()
	rewardEngine.SetState(state)
	engine := NewEngine(ledger, rewardEngine)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return &testFixture{engine: engine, ledger: ledger, rewards: rewardEngine, state: state}
}

// initMarket initializes a market and points the reward engine at the derived
// issuer, mirroring daemon wiring.
func (f *testFixture) initMarket(t *testing.T, admin [20]byte, name string, feeBps uint32) *Config {
	t.Helper()
	cfg, err := f.engine.Initialize(admin, name, feeBps)
	if err != nil {
		t.Fatalf("initialize market: %v", err)
	}
	f.rewards.SetIssuer(cfg.RewardIssuer)
	return cfg
}

func (f *testFixture) registerVerifiedAsset(t *testing.T, id [32]byte, holder [20]byte, collection [32]byte) {
	t.Helper()
	if _, err := f.ledger.Register(id, holder, &collection, true); err != nil {
		t.Fatalf("register asset: %v", err)
	}
}

func (f *testFixture) fund(addr [20]byte, amount int64) {
	f.state.accounts[addr] = &types.Account{Balance: big.NewInt(amount), RewardBalance: big.NewInt(0)}
}

func (f *testFixture) balance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	account, err := f.state.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Normalize().Balance
}

func TestInitializeDerivesAuthorities(t *testing.T) {
	f := newTestFixture(t)
	admin := newTestAddress(0x01)

	cfg, err := f.engine.Initialize(admin, "  Main  ", 250)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if cfg.Name != "main" {
		t.Fatalf("expected normalized name main, got %q", cfg.Name)
	}
	if cfg.Treasury == ([20]byte{}) || cfg.RewardIssuer == ([20]byte{}) {
		t.Fatalf("expected derived authorities to be non-zero")
	}
	if cfg.Treasury == cfg.RewardIssuer {
		t.Fatalf("treasury and reward issuer must be distinct")
	}
	if cfg.Treasury != DeriveTreasury("main") || cfg.RewardIssuer != DeriveRewardIssuer("main") {
		t.Fatalf("derived authorities do not match the derivation functions")
	}

	// Identical re-initialization is idempotent.
	again, err := f.engine.Initialize(admin, "main", 250)
	if err != nil {
		t.Fatalf("repeat initialize: %v", err)
	}
	if again.CreatedAt != cfg.CreatedAt {
		t.Fatalf("repeat initialize must return the stored record")
	}

	// A conflicting definition is rejected.
	if _, err := f.engine.Initialize(admin, "main", 300); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	other := newTestAddress(0x02)
	if _, err := f.engine.Initialize(other, "main", 250); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized for conflicting admin, got %v", err)
	}
}

func TestInitializeRejectsInvalidFee(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.engine.Initialize(newTestAddress(0x01), "main", BpsDenominator+1); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if _, ok := f.state.markets["main"]; ok {
		t.Fatalf("rejected initialization must not store a config")
	}
}

func TestUpdateFee(t *testing.T) {
	f := newTestFixture(t)
	admin := newTestAddress(0x01)
	f.initMarket(t, admin, "main", 250)

	if err := f.engine.UpdateFee(admin, "main", 500); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	cfg, err := f.engine.GetConfig("main")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.FeeBps != 500 {
		t.Fatalf("expected fee 500, got %d", cfg.FeeBps)
	}

	if err := f.engine.UpdateFee(newTestAddress(0x02), "main", 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.UpdateFee(admin, "main", BpsDenominator+1); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	cfg, _ = f.engine.GetConfig("main")
	if cfg.FeeBps != 500 {
		t.Fatalf("rejected update must leave the fee unchanged, got %d", cfg.FeeBps)
	}
}

func TestListEscrowsAssetInVault(t *testing.T) {
	f := newTestFixture(t)
	admin := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, admin, "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	listing, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.Vault == ([20]byte{}) {
		t.Fatalf("expected a derived vault address")
	}
	holder, err := f.ledger.Holder(assetID)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != listing.Vault {
		t.Fatalf("asset must be held by the vault after listing")
	}
	stored, err := f.engine.GetListing(listing.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if stored.Seller != seller || stored.Price.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("stored listing does not match the request")
	}
}

func TestListRejectsInvalidPrice(t *testing.T) {
	f := newTestFixture(t)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if _, err := f.engine.List("main", seller, assetID, collection, price); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %v: expected ErrInvalidPrice, got %v", price, err)
		}
	}
	huge := new(big.Int).Lsh(big.NewInt(1), MaxAmountBits)
	if _, err := f.engine.List("main", seller, assetID, collection, huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if len(f.state.listings) != 0 {
		t.Fatalf("rejected listings must not be stored")
	}
}

func TestListRequiresVerifiedMembership(t *testing.T) {
	f := newTestFixture(t)
	seller := newTestAddress(0x02)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)

	// No collection reference at all.
	bare := newTestHash(0xA1)
	if _, err := f.ledger.Register(bare, seller, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.engine.List("main", seller, bare, collection, big.NewInt(100)); !errors.Is(err, assets.ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", err)
	}

	// Wrong collection.
	wrong := newTestHash(0xA2)
	f.registerVerifiedAsset(t, wrong, seller, newTestHash(0xC2))
	if _, err := f.engine.List("main", seller, wrong, collection, big.NewInt(100)); !errors.Is(err, assets.ErrUnverified) {
		t.Fatalf("expected ErrUnverified for mismatched collection, got %v", err)
	}

	// Right collection, membership never confirmed.
	unconfirmed := newTestHash(0xA3)
	if _, err := f.ledger.Register(unconfirmed, seller, &collection, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.engine.List("main", seller, unconfirmed, collection, big.NewInt(100)); !errors.Is(err, assets.ErrUnverified) {
		t.Fatalf("expected ErrUnverified for unconfirmed membership, got %v", err)
	}

	if len(f.state.listings) != 0 || len(f.state.listingByAsst) != 0 {
		t.Fatalf("failed listings must leave no registry residue")
	}
	holder, _ := f.ledger.Holder(bare)
	if holder != seller {
		t.Fatalf("failed listing must leave custody with the seller")
	}
}

func TestListRejectsDuplicateActiveListing(t *testing.T) {
	f := newTestFixture(t)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	if _, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.engine.List("main", seller, assetID, collection, big.NewInt(2000)); !errors.Is(err, ErrDuplicateListing) {
		t.Fatalf("expected ErrDuplicateListing, got %v", err)
	}
}

func TestListRevertsWhenSellerNotHolder(t *testing.T) {
	f := newTestFixture(t)
	holder := newTestAddress(0x02)
	impostor := newTestAddress(0x03)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, holder, collection)

	if _, err := f.engine.List("main", impostor, assetID, collection, big.NewInt(1000)); !errors.Is(err, assets.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if len(f.state.listings) != 0 {
		t.Fatalf("failed listing must not be stored")
	}
	if f.state.seqs["main"] != 0 {
		t.Fatalf("failed listing must revert the sequence counter")
	}
}

func TestListingIDsNeverRepeat(t *testing.T) {
	f := newTestFixture(t)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	first, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := f.engine.Delist(seller, first.ID); err != nil {
		t.Fatalf("delist: %v", err)
	}
	second, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000))
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("relisting the same asset must derive a fresh listing id")
	}
	if first.Vault == second.Vault {
		t.Fatalf("relisting the same asset must derive a fresh vault")
	}
}

func TestDelistReturnsAssetToSeller(t *testing.T) {
	f := newTestFixture(t)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	listing, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000))
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := f.engine.Delist(newTestAddress(0x09), listing.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-seller, got %v", err)
	}
	if err := f.engine.Delist(seller, listing.ID); err != nil {
		t.Fatalf("delist: %v", err)
	}
	holder, err := f.ledger.Holder(assetID)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != seller {
		t.Fatalf("delist must return custody to the seller")
	}
	if _, err := f.engine.GetListing(listing.ID); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound after delist, got %v", err)
	}
	if err := f.engine.Delist(seller, listing.ID); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound on repeat delist, got %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(assets.NewLedger(), rewards.NewEngine())
	if _, err := engine.Initialize(newTestAddress(0x01), "main", 0); err == nil {
		t.Fatalf("expected error when state is not configured")
	}
}

func TestListedEventEmitted(t *testing.T) {
	f := newTestFixture(t)
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	seller := newTestAddress(0x02)
	assetID := newTestHash(0xA1)
	collection := newTestHash(0xC1)
	f.initMarket(t, newTestAddress(0x01), "main", 250)
	f.registerVerifiedAsset(t, assetID, seller, collection)

	if _, err := f.engine.List("main", seller, assetID, collection, big.NewInt(1000)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var seen []string
	for _, evt := range emitter.events {
		seen = append(seen, evt.EventType())
	}
	want := []string{EventTypeMarketInitialized, EventTypeListed}
	if len(seen) != len(want) {
		t.Fatalf("expected events %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, seen)
		}
	}
}
