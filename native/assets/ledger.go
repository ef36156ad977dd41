package assets

import (
	"errors"
	"fmt"
	"time"

	"assetmarket/core/events"
	"assetmarket/core/types"
)

var (
	errNilState = errors.New("asset ledger: state not configured")

	// ErrAssetNotFound is returned when the referenced asset has never been
	// registered with the ledger.
	ErrAssetNotFound = errors.New("asset ledger: asset not found")
	// ErrNotHolder is returned when a transfer names a sender that does not
	// currently hold the asset.
	ErrNotHolder = errors.New("asset ledger: sender is not the current holder")
	// ErrUnverified is returned when collection membership cannot be
	// confirmed for the claimed collection.
	ErrUnverified = errors.New("asset ledger: collection membership not verified")
)

type ledgerState interface {
	AssetPut(*Asset) error
	AssetGet(id [32]byte) (*Asset, bool)
}

// Ledger tracks asset custody and answers collection-membership queries. It
// stands in for the chain-level transfer primitive: moves succeed only when
// the named sender is the current holder, and each asset has exactly one
// holder at a time.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger creates an asset ledger with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(assetEvent{evt: evt})
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) loadAsset(id [32]byte) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset, ok := l.state.AssetGet(id)
	if !ok {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

// Register records a new asset under the supplied holder. Registration is
// idempotent: repeating the call with an identical definition returns the
// stored record, while a conflicting definition is rejected.
func (l *Ledger) Register(id [32]byte, holder [20]byte, collection *[32]byte, verified bool) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset := &Asset{
		ID:                 id,
		Holder:             holder,
		HasCollection:      collection != nil,
		CollectionVerified: verified,
		RegisteredAt:       l.now(),
	}
	if collection != nil {
		asset.Collection = *collection
	}
	sanitized, err := SanitizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if existing, ok := l.state.AssetGet(id); ok {
		if existing.Holder != sanitized.Holder || existing.HasCollection != sanitized.HasCollection ||
			existing.Collection != sanitized.Collection || existing.CollectionVerified != sanitized.CollectionVerified {
			return nil, fmt.Errorf("asset ledger: identifier already exists with different definition")
		}
		return existing.Clone(), nil
	}
	if err := l.state.AssetPut(sanitized); err != nil {
		return nil, err
	}
	l.emit(NewRegisteredEvent(sanitized))
	return sanitized.Clone(), nil
}

// Get returns the stored asset record.
func (l *Ledger) Get(id [32]byte) (*Asset, error) {
	asset, err := l.loadAsset(id)
	if err != nil {
		return nil, err
	}
	return asset.Clone(), nil
}

// Holder reports the current holder of the asset.
func (l *Ledger) Holder(id [32]byte) ([20]byte, error) {
	asset, err := l.loadAsset(id)
	if err != nil {
		return [20]byte{}, err
	}
	return asset.Holder, nil
}

// Transfer moves the asset from the named sender to the recipient. The move
// fails with ErrNotHolder when the sender does not hold the asset, leaving
// state untouched.
func (l *Ledger) Transfer(id [32]byte, from, to [20]byte) error {
	asset, err := l.loadAsset(id)
	if err != nil {
		return err
	}
	if asset.Holder != from {
		return ErrNotHolder
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("asset ledger: transfer recipient must not be zero")
	}
	if from == to {
		return nil
	}
	asset.Holder = to
	if err := l.state.AssetPut(asset); err != nil {
		return err
	}
	l.emit(NewTransferredEvent(asset, from))
	return nil
}

// VerifyMembership confirms the asset is a verified member of the claimed
// collection. The check is pure: it fails with ErrUnverified when the asset
// carries no collection reference, references a different collection, or its
// membership has not been marked verified by the collection authority.
func (l *Ledger) VerifyMembership(id [32]byte, collection [32]byte) error {
	asset, err := l.loadAsset(id)
	if err != nil {
		return err
	}
	if !asset.HasCollection {
		return fmt.Errorf("%w: asset has no collection reference", ErrUnverified)
	}
	if asset.Collection != collection {
		return fmt.Errorf("%w: collection reference mismatch", ErrUnverified)
	}
	if !asset.CollectionVerified {
		return fmt.Errorf("%w: membership not confirmed by collection authority", ErrUnverified)
	}
	return nil
}
