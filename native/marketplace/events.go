package marketplace

import (
	"encoding/hex"
	"strconv"

	"assetmarket/core/types"
)

const (
	EventTypeMarketInitialized = "marketplace.initialized"
	EventTypeFeeUpdated        = "marketplace.fee_updated"
	EventTypeListed            = "marketplace.listed"
	EventTypeDelisted          = "marketplace.delisted"
	EventTypePurchased         = "marketplace.purchased"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent returns the canonical payload for a newly initialized
// marketplace.
func NewInitializedEvent(c *Config) *types.Event {
	return newConfigEvent(EventTypeMarketInitialized, c)
}

// NewFeeUpdatedEvent returns the payload emitted when the admin changes the
// fee rate.
func NewFeeUpdatedEvent(c *Config) *types.Event {
	return newConfigEvent(EventTypeFeeUpdated, c)
}

// NewListedEvent returns the payload emitted when an asset enters escrow
// under a new listing.
func NewListedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListed, l)
}

// NewDelistedEvent returns the payload emitted when a seller cancels a
// listing and custody returns to them.
func NewDelistedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeDelisted, l)
}

// NewPurchasedEvent returns the payload emitted once a purchase completes.
func NewPurchasedEvent(r *Receipt) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: EventTypePurchased, Attributes: attrs}
	}
	attrs["receiptId"] = r.ID
	attrs["listingId"] = hex.EncodeToString(r.ListingID[:])
	attrs["market"] = r.Market
	attrs["assetId"] = hex.EncodeToString(r.AssetID[:])
	attrs["buyer"] = hex.EncodeToString(r.Buyer[:])
	attrs["seller"] = hex.EncodeToString(r.Seller[:])
	attrs["price"] = cloneBigInt(r.Price).String()
	attrs["fee"] = cloneBigInt(r.Fee).String()
	attrs["sellerProceeds"] = cloneBigInt(r.SellerProceeds).String()
	attrs["reward"] = cloneBigInt(r.RewardAmount).String()
	attrs["timestamp"] = strconv.FormatInt(r.Timestamp, 10)
	return &types.Event{Type: EventTypePurchased, Attributes: attrs}
}

func newConfigEvent(eventType string, c *Config) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["name"] = c.Name
	attrs["admin"] = hex.EncodeToString(c.Admin[:])
	attrs["feeBps"] = strconv.FormatUint(uint64(c.FeeBps), 10)
	attrs["treasury"] = hex.EncodeToString(c.Treasury[:])
	attrs["rewardIssuer"] = hex.EncodeToString(c.RewardIssuer[:])
	attrs["updatedAt"] = strconv.FormatInt(c.UpdatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["listingId"] = hex.EncodeToString(l.ID[:])
	attrs["market"] = l.Market
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["assetId"] = hex.EncodeToString(l.AssetID[:])
	attrs["price"] = cloneBigInt(l.Price).String()
	attrs["vault"] = hex.EncodeToString(l.Vault[:])
	attrs["createdAt"] = strconv.FormatInt(l.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
