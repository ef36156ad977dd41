package marketplace

import (
	"math/big"

	"github.com/google/uuid"
)

// Purchase executes the atomic trade for an active listing: it validates the
// buyer's funds, splits the price between seller and treasury, releases the
// escrowed asset to the buyer, retires the listing and mints the buyer's
// reward credit. All steps run inside one state snapshot; any failure,
// including reward issuance, reverts every earlier step so the listing stays
// active and no balance moves.
func (e *Engine) Purchase(buyer [20]byte, listingID [32]byte) (*Receipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig(listing.Market)
	if err != nil {
		return nil, err
	}
	buyerAcc, err := e.state.GetAccount(buyer[:])
	if err != nil {
		return nil, err
	}
	if buyerAcc.Normalize().Balance.Cmp(listing.Price) < 0 {
		return nil, ErrInsufficientFunds
	}

	fee, proceeds, err := SplitPrice(listing.Price, cfg.FeeBps)
	if err != nil {
		return nil, err
	}

	snapshot := e.state.Snapshot()
	if err := e.transferCurrency(buyer, listing.Seller, proceeds); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := e.transferCurrency(buyer, cfg.Treasury, fee); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := e.releaseVault(listing, buyer); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	reward, err := e.rewards.Mint(cfg.RewardIssuer, buyer, listing.Price)
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	receipt := &Receipt{
		ID:             uuid.NewString(),
		ListingID:      listing.ID,
		Market:         listing.Market,
		AssetID:        listing.AssetID,
		Buyer:          buyer,
		Seller:         listing.Seller,
		Price:          new(big.Int).Set(listing.Price),
		Fee:            fee,
		SellerProceeds: proceeds,
		RewardAmount:   reward,
		Timestamp:      e.now(),
	}
	if err := e.state.ReceiptPut(receipt); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	e.emit(NewPurchasedEvent(receipt))
	return receipt.Clone(), nil
}
