package marketplace

import (
	"fmt"
	"math/big"
	"time"

	"assetmarket/core/events"
	"assetmarket/core/types"
	"assetmarket/native/assets"
	"assetmarket/native/rewards"
)

type engineState interface {
	Snapshot() int
	RevertToSnapshot(int)
	MarketConfigPut(*Config) error
	MarketConfigGet(name string) (*Config, bool)
	ListingPut(*Listing) error
	ListingGet(id [32]byte) (*Listing, bool)
	ListingDelete(id [32]byte) error
	ListingIDByAsset(assetID [32]byte) ([32]byte, bool, error)
	ListingIndexAsset(assetID [32]byte, listingID [32]byte) error
	ListingRemoveByAsset(assetID [32]byte) error
	ListingNextSeq(name string) (uint64, error)
	ReceiptPut(*Receipt) error
	ReceiptGet(id string) (*Receipt, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine wires the listing registry, vault custody and trade execution with
// external state, the asset ledger and the rewards engine. Every multi-step
// operation takes a state snapshot on entry and reverts it on failure, so
// callers observe either the full effect of an operation or none of it.
type Engine struct {
	state   engineState
	assets  *assets.Ledger
	rewards *rewards.Engine
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a marketplace engine bound to the supplied asset
// ledger and rewards engine.
func NewEngine(ledger *assets.Ledger, rewardEngine *rewards.Engine) *Engine {
	return &Engine{
		assets:  ledger,
		rewards: rewardEngine,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilAssets
	}
	if e.rewards == nil {
		return errNilRewards
	}
	return nil
}

func (e *Engine) loadConfig(name string) (*Config, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	cfg, ok := e.state.MarketConfigGet(normalized)
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (e *Engine) loadListing(id [32]byte) (*Listing, error) {
	listing, ok := e.state.ListingGet(id)
	if !ok {
		return nil, ErrListingNotFound
	}
	return SanitizeListing(listing)
}

// Initialize creates the configuration record for a new marketplace name and
// derives its treasury and reward-issuer authorities. Repeating the call with
// an identical definition returns the stored record; a conflicting definition
// fails with ErrAlreadyInitialized.
func (e *Engine) Initialize(admin [20]byte, name string, feeBps uint32) (*Config, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if admin == ([20]byte{}) {
		return nil, fmt.Errorf("marketplace: admin must not be zero")
	}
	if feeBps > BpsDenominator {
		return nil, ErrInvalidFee
	}
	if existing, ok := e.state.MarketConfigGet(normalized); ok {
		if existing.Admin != admin || existing.FeeBps != feeBps {
			return nil, ErrAlreadyInitialized
		}
		return existing.Clone(), nil
	}
	now := e.now()
	cfg := &Config{
		Name:         normalized,
		Admin:        admin,
		FeeBps:       feeBps,
		Treasury:     DeriveTreasury(normalized),
		RewardIssuer: DeriveRewardIssuer(normalized),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.state.MarketConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// UpdateFee changes the fee rate of an existing marketplace. Only the stored
// admin may invoke the change, and the new rate must stay within 10000 bps.
func (e *Engine) UpdateFee(caller [20]byte, name string, feeBps uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	cfg, err := e.loadConfig(name)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	if feeBps > BpsDenominator {
		return ErrInvalidFee
	}
	if cfg.FeeBps == feeBps {
		return nil
	}
	cfg.FeeBps = feeBps
	cfg.UpdatedAt = e.now()
	if err := e.state.MarketConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewFeeUpdatedEvent(cfg))
	return nil
}

// List verifies the asset's collection membership, takes custody of the asset
// in a freshly derived vault and records the offer. Listing creation and
// vault funding are one atomic unit: on any failure no listing record or
// custody change survives.
func (e *Engine) List(market string, seller [20]byte, assetID, collectionID [32]byte, price *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig(market)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if price.BitLen() > MaxAmountBits {
		return nil, ErrAmountOverflow
	}
	if err := e.assets.VerifyMembership(assetID, collectionID); err != nil {
		return nil, err
	}
	if _, exists, err := e.state.ListingIDByAsset(assetID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateListing
	}

	snapshot := e.state.Snapshot()
	seq, err := e.state.ListingNextSeq(cfg.Name)
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	listingID := DeriveListingID(cfg.Name, assetID, seq)
	vault := DeriveVault(cfg.Name, listingID)
	if err := e.assets.Transfer(assetID, seller, vault); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	listing := &Listing{
		ID:        listingID,
		Market:    cfg.Name,
		Seller:    seller,
		AssetID:   assetID,
		Price:     new(big.Int).Set(price),
		Vault:     vault,
		CreatedAt: e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := e.state.ListingIndexAsset(assetID, listingID); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	e.emit(NewListedEvent(listing))
	return listing.Clone(), nil
}

// Delist returns the escrowed asset to the seller and removes the listing.
// Only the listing's seller may cancel; no currency moves.
func (e *Engine) Delist(caller [20]byte, listingID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if caller != listing.Seller {
		return ErrUnauthorized
	}
	snapshot := e.state.Snapshot()
	if err := e.releaseVault(listing, listing.Seller); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	e.emit(NewDelistedEvent(listing))
	return nil
}

// GetListing resolves an active listing by id.
func (e *Engine) GetListing(id [32]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// GetConfig resolves the configuration of a named marketplace.
func (e *Engine) GetConfig(name string) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadConfig(name)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// GetReceipt resolves a stored purchase receipt by id.
func (e *Engine) GetReceipt(id string) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	receipt, ok := e.state.ReceiptGet(id)
	if !ok {
		return nil, fmt.Errorf("marketplace: receipt %s not found", id)
	}
	return receipt.Clone(), nil
}

// releaseVault moves the escrowed asset to the destination and destroys the
// listing together with its vault. Invoked exactly once per listing, by the
// purchase path (destination buyer) or the cancellation path (destination
// seller).
func (e *Engine) releaseVault(listing *Listing, destination [20]byte) error {
	if err := e.assets.Transfer(listing.AssetID, listing.Vault, destination); err != nil {
		return err
	}
	if err := e.state.ListingDelete(listing.ID); err != nil {
		return err
	}
	return e.state.ListingRemoveByAsset(listing.AssetID)
}

// transferCurrency moves amount units of the primary currency between
// accounts, failing with ErrInsufficientFunds when the sender cannot cover
// it. Zero amounts and self transfers move nothing, though a self transfer
// still requires the sender to cover the amount.
func (e *Engine) transferCurrency(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("marketplace: negative transfer amount")
	}
	if from == to {
		fromAcc, err := e.state.GetAccount(from[:])
		if err != nil {
			return err
		}
		if fromAcc.Normalize().Balance.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Normalize()
	toAcc = toAcc.Normalize()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}
