package storage

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"assetmarket/core/types"
	"assetmarket/native/assets"
	"assetmarket/native/marketplace"
)

// Store owns the canonical State and persists it through sqlite. Operations
// that mutate state run inside Exec, which serializes them under one lock,
// wraps them in a snapshot so failures leave no residue, and writes the
// surviving changes through to disk before the lock is released. Reads go
// through View.
type Store struct {
	mu    sync.RWMutex
	db    *gorm.DB
	state *State
}

// Open opens (or creates) the sqlite database at path and loads the full
// state into memory.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&accountRow{}, &rewardMeterRow{}, &assetRow{}, &marketRow{},
		&listingRow{}, &sequenceRow{}, &receiptRow{},
	); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	store := &Store{db: db, state: newState()}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns a store without a database backend. State changes still
// get snapshot/revert semantics but live only in memory; used by tests and
// ephemeral deployments.
func NewMemory() *Store {
	return &Store{state: newState()}
}

// State exposes the canonical state for engine wiring. Engines must only be
// invoked inside Exec or View.
func (s *Store) State() *State { return s.state }

// Exec runs fn against the state as one serialized, all-or-nothing unit. On
// error every state change made by fn is reverted; on success dirty entries
// are flushed to sqlite inside a transaction before the next operation can
// begin.
func (s *Store) Exec(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.Snapshot()
	if err := fn(s.state); err != nil {
		s.state.RevertToSnapshot(snapshot)
		return err
	}
	if s.db != nil {
		if err := s.persist(); err != nil {
			s.state.RevertToSnapshot(snapshot)
			return err
		}
	}
	s.state.discardSnapshots()
	s.state.clearDirty()
	return nil
}

// View runs fn with shared read access to the state. fn must not mutate.
func (s *Store) View(fn func(*State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) persist() error {
	st := s.state
	return s.db.Transaction(func(tx *gorm.DB) error {
		upsert := clause.OnConflict{UpdateAll: true}
		for key := range st.dirty.accounts {
			acc := st.accounts[key]
			if acc == nil {
				continue
			}
			row := accountRow{
				Address:       hex.EncodeToString(key[:]),
				Balance:       bigString(acc.Balance),
				RewardBalance: bigString(acc.RewardBalance),
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for key := range st.dirty.rewardAccrued {
			row := rewardMeterRow{
				Address: hex.EncodeToString(key[:]),
				Total:   bigString(st.rewardAccrued[key]),
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for id := range st.dirty.assets {
			asset := st.assets[id]
			if asset == nil {
				continue
			}
			row := assetRow{
				ID:                 hex.EncodeToString(id[:]),
				Holder:             hex.EncodeToString(asset.Holder[:]),
				Collection:         hex.EncodeToString(asset.Collection[:]),
				HasCollection:      asset.HasCollection,
				CollectionVerified: asset.CollectionVerified,
				RegisteredAt:       asset.RegisteredAt,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for name := range st.dirty.markets {
			cfg := st.markets[name]
			if cfg == nil {
				continue
			}
			row := marketRow{
				Name:         cfg.Name,
				Admin:        hex.EncodeToString(cfg.Admin[:]),
				FeeBps:       cfg.FeeBps,
				Treasury:     hex.EncodeToString(cfg.Treasury[:]),
				RewardIssuer: hex.EncodeToString(cfg.RewardIssuer[:]),
				CreatedAt:    cfg.CreatedAt,
				UpdatedAt:    cfg.UpdatedAt,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for id := range st.dirty.deletedListings {
			if err := tx.Where("id = ?", hex.EncodeToString(id[:])).Delete(&listingRow{}).Error; err != nil {
				return err
			}
		}
		for id := range st.dirty.listings {
			listing := st.listings[id]
			if listing == nil {
				continue
			}
			row := listingRow{
				ID:        hex.EncodeToString(id[:]),
				Market:    listing.Market,
				Seller:    hex.EncodeToString(listing.Seller[:]),
				AssetID:   hex.EncodeToString(listing.AssetID[:]),
				Price:     bigString(listing.Price),
				Vault:     hex.EncodeToString(listing.Vault[:]),
				CreatedAt: listing.CreatedAt,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for name := range st.dirty.sequences {
			row := sequenceRow{Market: name, Next: st.listingSeq[name]}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		for id := range st.dirty.receipts {
			receipt := st.receipts[id]
			if receipt == nil {
				continue
			}
			row := receiptRow{
				ID:             receipt.ID,
				ListingID:      hex.EncodeToString(receipt.ListingID[:]),
				Market:         receipt.Market,
				AssetID:        hex.EncodeToString(receipt.AssetID[:]),
				Buyer:          hex.EncodeToString(receipt.Buyer[:]),
				Seller:         hex.EncodeToString(receipt.Seller[:]),
				Price:          bigString(receipt.Price),
				Fee:            bigString(receipt.Fee),
				SellerProceeds: bigString(receipt.SellerProceeds),
				RewardAmount:   bigString(receipt.RewardAmount),
				Timestamp:      receipt.Timestamp,
			}
			if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) load() error {
	st := s.state

	var accountRows []accountRow
	if err := s.db.Find(&accountRows).Error; err != nil {
		return err
	}
	for _, row := range accountRows {
		key, err := decodeAddress(row.Address)
		if err != nil {
			return fmt.Errorf("storage: account %s: %w", row.Address, err)
		}
		balance, err := parseBig(row.Balance)
		if err != nil {
			return fmt.Errorf("storage: account %s balance: %w", row.Address, err)
		}
		reward, err := parseBig(row.RewardBalance)
		if err != nil {
			return fmt.Errorf("storage: account %s reward balance: %w", row.Address, err)
		}
		st.accounts[key] = &types.Account{Balance: balance, RewardBalance: reward}
	}

	var meterRows []rewardMeterRow
	if err := s.db.Find(&meterRows).Error; err != nil {
		return err
	}
	for _, row := range meterRows {
		key, err := decodeAddress(row.Address)
		if err != nil {
			return fmt.Errorf("storage: reward meter %s: %w", row.Address, err)
		}
		total, err := parseBig(row.Total)
		if err != nil {
			return fmt.Errorf("storage: reward meter %s total: %w", row.Address, err)
		}
		st.rewardAccrued[key] = total
	}

	var assetRows []assetRow
	if err := s.db.Find(&assetRows).Error; err != nil {
		return err
	}
	for _, row := range assetRows {
		id, err := decodeHash(row.ID)
		if err != nil {
			return fmt.Errorf("storage: asset %s: %w", row.ID, err)
		}
		holder, err := decodeAddress(row.Holder)
		if err != nil {
			return fmt.Errorf("storage: asset %s holder: %w", row.ID, err)
		}
		collection, err := decodeHash(row.Collection)
		if err != nil {
			return fmt.Errorf("storage: asset %s collection: %w", row.ID, err)
		}
		st.assets[id] = &assets.Asset{
			ID:                 id,
			Holder:             holder,
			Collection:         collection,
			HasCollection:      row.HasCollection,
			CollectionVerified: row.CollectionVerified,
			RegisteredAt:       row.RegisteredAt,
		}
	}

	var marketRows []marketRow
	if err := s.db.Find(&marketRows).Error; err != nil {
		return err
	}
	for _, row := range marketRows {
		admin, err := decodeAddress(row.Admin)
		if err != nil {
			return fmt.Errorf("storage: market %s admin: %w", row.Name, err)
		}
		treasury, err := decodeAddress(row.Treasury)
		if err != nil {
			return fmt.Errorf("storage: market %s treasury: %w", row.Name, err)
		}
		issuer, err := decodeAddress(row.RewardIssuer)
		if err != nil {
			return fmt.Errorf("storage: market %s reward issuer: %w", row.Name, err)
		}
		st.markets[row.Name] = &marketplace.Config{
			Name:         row.Name,
			Admin:        admin,
			FeeBps:       row.FeeBps,
			Treasury:     treasury,
			RewardIssuer: issuer,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
	}

	var listingRows []listingRow
	if err := s.db.Find(&listingRows).Error; err != nil {
		return err
	}
	for _, row := range listingRows {
		id, err := decodeHash(row.ID)
		if err != nil {
			return fmt.Errorf("storage: listing %s: %w", row.ID, err)
		}
		seller, err := decodeAddress(row.Seller)
		if err != nil {
			return fmt.Errorf("storage: listing %s seller: %w", row.ID, err)
		}
		assetID, err := decodeHash(row.AssetID)
		if err != nil {
			return fmt.Errorf("storage: listing %s asset: %w", row.ID, err)
		}
		vault, err := decodeAddress(row.Vault)
		if err != nil {
			return fmt.Errorf("storage: listing %s vault: %w", row.ID, err)
		}
		price, err := parseBig(row.Price)
		if err != nil {
			return fmt.Errorf("storage: listing %s price: %w", row.ID, err)
		}
		st.listings[id] = &marketplace.Listing{
			ID:        id,
			Market:    row.Market,
			Seller:    seller,
			AssetID:   assetID,
			Price:     price,
			Vault:     vault,
			CreatedAt: row.CreatedAt,
		}
		st.listingByAsset[assetID] = id
	}

	var sequenceRows []sequenceRow
	if err := s.db.Find(&sequenceRows).Error; err != nil {
		return err
	}
	for _, row := range sequenceRows {
		st.listingSeq[row.Market] = row.Next
	}

	var receiptRows []receiptRow
	if err := s.db.Find(&receiptRows).Error; err != nil {
		return err
	}
	for _, row := range receiptRows {
		listingID, err := decodeHash(row.ListingID)
		if err != nil {
			return fmt.Errorf("storage: receipt %s listing: %w", row.ID, err)
		}
		assetID, err := decodeHash(row.AssetID)
		if err != nil {
			return fmt.Errorf("storage: receipt %s asset: %w", row.ID, err)
		}
		buyer, err := decodeAddress(row.Buyer)
		if err != nil {
			return fmt.Errorf("storage: receipt %s buyer: %w", row.ID, err)
		}
		seller, err := decodeAddress(row.Seller)
		if err != nil {
			return fmt.Errorf("storage: receipt %s seller: %w", row.ID, err)
		}
		price, err := parseBig(row.Price)
		if err != nil {
			return fmt.Errorf("storage: receipt %s price: %w", row.ID, err)
		}
		fee, err := parseBig(row.Fee)
		if err != nil {
			return fmt.Errorf("storage: receipt %s fee: %w", row.ID, err)
		}
		proceeds, err := parseBig(row.SellerProceeds)
		if err != nil {
			return fmt.Errorf("storage: receipt %s proceeds: %w", row.ID, err)
		}
		reward, err := parseBig(row.RewardAmount)
		if err != nil {
			return fmt.Errorf("storage: receipt %s reward: %w", row.ID, err)
		}
		st.receipts[row.ID] = &marketplace.Receipt{
			ID:             row.ID,
			ListingID:      listingID,
			Market:         row.Market,
			AssetID:        assetID,
			Buyer:          buyer,
			Seller:         seller,
			Price:          price,
			Fee:            fee,
			SellerProceeds: proceeds,
			RewardAmount:   reward,
			Timestamp:      row.Timestamp,
		}
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", v)
	}
	return parsed, nil
}

func decodeAddress(v string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(v)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("expected %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func decodeHash(v string) ([32]byte, error) {
	var hash [32]byte
	raw, err := hex.DecodeString(v)
	if err != nil {
		return hash, err
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("expected %d bytes, got %d", len(hash), len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}
