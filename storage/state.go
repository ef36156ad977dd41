package storage

import (
	"errors"
	"fmt"
	"math/big"

	"assetmarket/core/types"
	"assetmarket/native/assets"
	"assetmarket/native/marketplace"
	"assetmarket/native/rewards"
)

var errRewardConfigUnset = errors.New("storage: reward config not set")

// State holds the canonical marketplace state in memory. It implements the
// state interfaces of the marketplace, assets and rewards engines, including
// the Snapshot/RevertToSnapshot pair that gives multi-step operations their
// all-or-nothing semantics.
//
// State methods are not safe for concurrent use; the owning Store serializes
// access through Exec and View.
type State struct {
	accounts       map[[20]byte]*types.Account
	rewardAccrued  map[[20]byte]*big.Int
	assets         map[[32]byte]*assets.Asset
	markets        map[string]*marketplace.Config
	listings       map[[32]byte]*marketplace.Listing
	listingByAsset map[[32]byte][32]byte
	listingSeq     map[string]uint64
	receipts       map[string]*marketplace.Receipt
	rewardConfig   *rewards.Config

	snapshots []*stateCopy
	dirty     dirtySet
}

type dirtySet struct {
	accounts        map[[20]byte]struct{}
	rewardAccrued   map[[20]byte]struct{}
	assets          map[[32]byte]struct{}
	markets         map[string]struct{}
	listings        map[[32]byte]struct{}
	deletedListings map[[32]byte]struct{}
	sequences       map[string]struct{}
	receipts        map[string]struct{}
}

type stateCopy struct {
	accounts       map[[20]byte]*types.Account
	rewardAccrued  map[[20]byte]*big.Int
	assets         map[[32]byte]*assets.Asset
	markets        map[string]*marketplace.Config
	listings       map[[32]byte]*marketplace.Listing
	listingByAsset map[[32]byte][32]byte
	listingSeq     map[string]uint64
	receipts       map[string]*marketplace.Receipt
	dirty          dirtySet
}

func newState() *State {
	return &State{
		accounts:       make(map[[20]byte]*types.Account),
		rewardAccrued:  make(map[[20]byte]*big.Int),
		assets:         make(map[[32]byte]*assets.Asset),
		markets:        make(map[string]*marketplace.Config),
		listings:       make(map[[32]byte]*marketplace.Listing),
		listingByAsset: make(map[[32]byte][32]byte),
		listingSeq:     make(map[string]uint64),
		receipts:       make(map[string]*marketplace.Receipt),
		dirty:          newDirtySet(),
	}
}

func newDirtySet() dirtySet {
	return dirtySet{
		accounts:        make(map[[20]byte]struct{}),
		rewardAccrued:   make(map[[20]byte]struct{}),
		assets:          make(map[[32]byte]struct{}),
		markets:         make(map[string]struct{}),
		listings:        make(map[[32]byte]struct{}),
		deletedListings: make(map[[32]byte]struct{}),
		sequences:       make(map[string]struct{}),
		receipts:        make(map[string]struct{}),
	}
}

func (d dirtySet) clone() dirtySet {
	clone := newDirtySet()
	for k := range d.accounts {
		clone.accounts[k] = struct{}{}
	}
	for k := range d.rewardAccrued {
		clone.rewardAccrued[k] = struct{}{}
	}
	for k := range d.assets {
		clone.assets[k] = struct{}{}
	}
	for k := range d.markets {
		clone.markets[k] = struct{}{}
	}
	for k := range d.listings {
		clone.listings[k] = struct{}{}
	}
	for k := range d.deletedListings {
		clone.deletedListings[k] = struct{}{}
	}
	for k := range d.sequences {
		clone.sequences[k] = struct{}{}
	}
	for k := range d.receipts {
		clone.receipts[k] = struct{}{}
	}
	return clone
}

func addressKey(addr []byte) ([20]byte, error) {
	var key [20]byte
	if len(addr) != len(key) {
		return key, fmt.Errorf("storage: address must be %d bytes, got %d", len(key), len(addr))
	}
	copy(key[:], addr)
	return key, nil
}

// Snapshot records a full copy of the state and returns its identifier.
func (s *State) Snapshot() int {
	copyState := &stateCopy{
		accounts:       make(map[[20]byte]*types.Account, len(s.accounts)),
		rewardAccrued:  make(map[[20]byte]*big.Int, len(s.rewardAccrued)),
		assets:         make(map[[32]byte]*assets.Asset, len(s.assets)),
		markets:        make(map[string]*marketplace.Config, len(s.markets)),
		listings:       make(map[[32]byte]*marketplace.Listing, len(s.listings)),
		listingByAsset: make(map[[32]byte][32]byte, len(s.listingByAsset)),
		listingSeq:     make(map[string]uint64, len(s.listingSeq)),
		receipts:       make(map[string]*marketplace.Receipt, len(s.receipts)),
		dirty:          s.dirty.clone(),
	}
	for k, v := range s.accounts {
		copyState.accounts[k] = v.Clone()
	}
	for k, v := range s.rewardAccrued {
		copyState.rewardAccrued[k] = new(big.Int).Set(v)
	}
	for k, v := range s.assets {
		copyState.assets[k] = v.Clone()
	}
	for k, v := range s.markets {
		copyState.markets[k] = v.Clone()
	}
	for k, v := range s.listings {
		copyState.listings[k] = v.Clone()
	}
	for k, v := range s.listingByAsset {
		copyState.listingByAsset[k] = v
	}
	for k, v := range s.listingSeq {
		copyState.listingSeq[k] = v
	}
	for k, v := range s.receipts {
		copyState.receipts[k] = v.Clone()
	}
	s.snapshots = append(s.snapshots, copyState)
	return len(s.snapshots) - 1
}

// RevertToSnapshot restores the state captured by the identified snapshot and
// discards it together with any later snapshots. Unknown identifiers are
// ignored.
func (s *State) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	copyState := s.snapshots[id]
	s.accounts = copyState.accounts
	s.rewardAccrued = copyState.rewardAccrued
	s.assets = copyState.assets
	s.markets = copyState.markets
	s.listings = copyState.listings
	s.listingByAsset = copyState.listingByAsset
	s.listingSeq = copyState.listingSeq
	s.receipts = copyState.receipts
	s.dirty = copyState.dirty
	s.snapshots = s.snapshots[:id]
}

func (s *State) discardSnapshots() {
	s.snapshots = s.snapshots[:0]
}

func (s *State) clearDirty() {
	s.dirty = newDirtySet()
}

// GetAccount returns a copy of the stored account, or a zeroed account when
// the address has never been seen.
func (s *State) GetAccount(addr []byte) (*types.Account, error) {
	key, err := addressKey(addr)
	if err != nil {
		return nil, err
	}
	if acc, ok := s.accounts[key]; ok {
		return acc.Clone(), nil
	}
	return (&types.Account{}).Normalize(), nil
}

// PutAccount stores a copy of the supplied account.
func (s *State) PutAccount(addr []byte, account *types.Account) error {
	key, err := addressKey(addr)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	s.accounts[key] = account.Clone().Normalize()
	s.dirty.accounts[key] = struct{}{}
	return nil
}

// RewardConfig returns the configured reward policy.
func (s *State) RewardConfig() (*rewards.Config, error) {
	if s.rewardConfig == nil {
		return nil, errRewardConfigUnset
	}
	return s.rewardConfig.Clone(), nil
}

// SetRewardConfig installs the reward policy consulted by the rewards engine.
// The policy lives in operator configuration and is not persisted.
func (s *State) SetRewardConfig(cfg *rewards.Config) {
	s.rewardConfig = cfg.Clone()
}

// RewardTotalAccrued reports the lifetime reward credit minted to an address.
func (s *State) RewardTotalAccrued(addr []byte) (*big.Int, error) {
	key, err := addressKey(addr)
	if err != nil {
		return nil, err
	}
	if total, ok := s.rewardAccrued[key]; ok {
		return new(big.Int).Set(total), nil
	}
	return big.NewInt(0), nil
}

// SetRewardTotalAccrued updates the lifetime reward meter for an address.
func (s *State) SetRewardTotalAccrued(addr []byte, amount *big.Int) error {
	key, err := addressKey(addr)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: reward meter must be non-negative")
	}
	s.rewardAccrued[key] = new(big.Int).Set(amount)
	s.dirty.rewardAccrued[key] = struct{}{}
	return nil
}

// AssetPut stores a sanitized copy of the asset record.
func (s *State) AssetPut(asset *assets.Asset) error {
	sanitized, err := assets.SanitizeAsset(asset)
	if err != nil {
		return err
	}
	s.assets[sanitized.ID] = sanitized
	s.dirty.assets[sanitized.ID] = struct{}{}
	return nil
}

// AssetGet returns a copy of the stored asset record.
func (s *State) AssetGet(id [32]byte) (*assets.Asset, bool) {
	asset, ok := s.assets[id]
	if !ok {
		return nil, false
	}
	return asset.Clone(), true
}

// MarketConfigPut stores a copy of the marketplace configuration.
func (s *State) MarketConfigPut(cfg *marketplace.Config) error {
	if cfg == nil {
		return fmt.Errorf("storage: nil marketplace config")
	}
	name, err := marketplace.NormalizeName(cfg.Name)
	if err != nil {
		return err
	}
	clone := cfg.Clone()
	clone.Name = name
	s.markets[name] = clone
	s.dirty.markets[name] = struct{}{}
	return nil
}

// MarketConfigGet returns a copy of the stored configuration for the name.
func (s *State) MarketConfigGet(name string) (*marketplace.Config, bool) {
	cfg, ok := s.markets[name]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// ListingPut stores a sanitized copy of the listing.
func (s *State) ListingPut(listing *marketplace.Listing) error {
	sanitized, err := marketplace.SanitizeListing(listing)
	if err != nil {
		return err
	}
	s.listings[sanitized.ID] = sanitized
	s.dirty.listings[sanitized.ID] = struct{}{}
	delete(s.dirty.deletedListings, sanitized.ID)
	return nil
}

// ListingGet returns a copy of the stored listing.
func (s *State) ListingGet(id [32]byte) (*marketplace.Listing, bool) {
	listing, ok := s.listings[id]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// ListingDelete removes the listing record.
func (s *State) ListingDelete(id [32]byte) error {
	if _, ok := s.listings[id]; !ok {
		return fmt.Errorf("storage: listing not found")
	}
	delete(s.listings, id)
	delete(s.dirty.listings, id)
	s.dirty.deletedListings[id] = struct{}{}
	return nil
}

// ListingIDByAsset resolves the active listing for an asset, if any.
func (s *State) ListingIDByAsset(assetID [32]byte) ([32]byte, bool, error) {
	id, ok := s.listingByAsset[assetID]
	return id, ok, nil
}

// ListingIndexAsset records the asset-to-listing index entry. An asset can
// back at most one active listing.
func (s *State) ListingIndexAsset(assetID [32]byte, listingID [32]byte) error {
	if existing, ok := s.listingByAsset[assetID]; ok && existing != listingID {
		return fmt.Errorf("storage: asset already indexed to another listing")
	}
	s.listingByAsset[assetID] = listingID
	return nil
}

// ListingRemoveByAsset drops the asset-to-listing index entry.
func (s *State) ListingRemoveByAsset(assetID [32]byte) error {
	delete(s.listingByAsset, assetID)
	return nil
}

// ListingNextSeq returns the next listing sequence number for a marketplace
// and advances the counter.
func (s *State) ListingNextSeq(name string) (uint64, error) {
	normalized, err := marketplace.NormalizeName(name)
	if err != nil {
		return 0, err
	}
	seq := s.listingSeq[normalized]
	s.listingSeq[normalized] = seq + 1
	s.dirty.sequences[normalized] = struct{}{}
	return seq, nil
}

// ReceiptPut stores a copy of the purchase receipt.
func (s *State) ReceiptPut(receipt *marketplace.Receipt) error {
	if receipt == nil || receipt.ID == "" {
		return fmt.Errorf("storage: receipt id required")
	}
	s.receipts[receipt.ID] = receipt.Clone()
	s.dirty.receipts[receipt.ID] = struct{}{}
	return nil
}

// ListingCount reports the number of active listings.
func (s *State) ListingCount() int {
	return len(s.listings)
}

// ReceiptGet returns a copy of the stored receipt.
func (s *State) ReceiptGet(id string) (*marketplace.Receipt, bool) {
	receipt, ok := s.receipts[id]
	if !ok {
		return nil, false
	}
	return receipt.Clone(), true
}
