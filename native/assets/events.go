package assets

import (
	"encoding/hex"
	"strconv"

	"assetmarket/core/types"
)

const (
	EventTypeAssetRegistered  = "assets.registered"
	EventTypeAssetTransferred = "assets.transferred"
)

type assetEvent struct {
	evt *types.Event
}

func (e assetEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e assetEvent) Event() *types.Event { return e.evt }

// NewRegisteredEvent returns the canonical event payload for a newly
// registered asset.
func NewRegisteredEvent(a *Asset) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: EventTypeAssetRegistered, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(a.ID[:])
	attrs["holder"] = hex.EncodeToString(a.Holder[:])
	if a.HasCollection {
		attrs["collection"] = hex.EncodeToString(a.Collection[:])
		attrs["verified"] = strconv.FormatBool(a.CollectionVerified)
	}
	attrs["registeredAt"] = strconv.FormatInt(a.RegisteredAt, 10)
	return &types.Event{Type: EventTypeAssetRegistered, Attributes: attrs}
}

// NewTransferredEvent returns the canonical event payload emitted when asset
// custody changes hands.
func NewTransferredEvent(a *Asset, from [20]byte) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: EventTypeAssetTransferred, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(a.ID[:])
	attrs["from"] = hex.EncodeToString(from[:])
	attrs["to"] = hex.EncodeToString(a.Holder[:])
	return &types.Event{Type: EventTypeAssetTransferred, Attributes: attrs}
}
