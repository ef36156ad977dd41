package assets

import (
	"bytes"
	"errors"
	"testing"
)

type mockState struct {
	assets map[[32]byte]*Asset
}

func newMockState() *mockState {
	return &mockState{assets: make(map[[32]byte]*Asset)}
}

func (m *mockState) AssetPut(asset *Asset) error {
	sanitized, err := SanitizeAsset(asset)
	if err != nil {
		return err
	}
	m.assets[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) AssetGet(id [32]byte) (*Asset, bool) {
	asset, ok := m.assets[id]
	if !ok {
		return nil, false
	}
	return asset.Clone(), true
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

func newTestLedger() (*Ledger, *mockState) {
	state := newMockState()
	ledger := NewLedger()
	ledger.SetState(state)
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })
	return ledger, state
}

func TestRegisterIdempotent(t *testing.T) {
	ledger, _ := newTestLedger()
	id := newTestHash(0xA1)
	holder := newTestAddress(0x01)
	collection := newTestHash(0xC1)

	first, err := ledger.Register(id, holder, &collection, true)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	again, err := ledger.Register(id, holder, &collection, true)
	if err != nil {
		t.Fatalf("repeat register: %v", err)
	}
	if again.RegisteredAt != first.RegisteredAt {
		t.Fatalf("repeat register must return the stored record")
	}
	if _, err := ledger.Register(id, newTestAddress(0x02), &collection, true); err == nil {
		t.Fatalf("expected error for conflicting registration")
	}
}

func TestRegisterRejectsVerifiedWithoutCollection(t *testing.T) {
	ledger, _ := newTestLedger()
	if _, err := ledger.Register(newTestHash(0xA1), newTestAddress(0x01), nil, true); err == nil {
		t.Fatalf("expected error for verified flag without a collection")
	}
}

func TestTransfer(t *testing.T) {
	ledger, _ := newTestLedger()
	id := newTestHash(0xA1)
	from := newTestAddress(0x01)
	to := newTestAddress(0x02)
	if _, err := ledger.Register(id, from, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := ledger.Transfer(id, to, from); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if err := ledger.Transfer(newTestHash(0xEE), from, to); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if err := ledger.Transfer(id, from, from); err != nil {
		t.Fatalf("self transfer must be a no-op: %v", err)
	}
	if err := ledger.Transfer(id, from, to); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	holder, err := ledger.Holder(id)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != to {
		t.Fatalf("expected new holder after transfer")
	}
	if err := ledger.Transfer(id, from, to); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("stale sender must fail with ErrNotHolder, got %v", err)
	}
}

func TestVerifyMembership(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := newTestAddress(0x01)
	collection := newTestHash(0xC1)

	verified := newTestHash(0xA1)
	if _, err := ledger.Register(verified, holder, &collection, true); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.VerifyMembership(verified, collection); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := ledger.VerifyMembership(verified, newTestHash(0xC2)); !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected ErrUnverified for a different collection, got %v", err)
	}

	bare := newTestHash(0xA2)
	if _, err := ledger.Register(bare, holder, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.VerifyMembership(bare, collection); !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected ErrUnverified without a collection reference, got %v", err)
	}

	unconfirmed := newTestHash(0xA3)
	if _, err := ledger.Register(unconfirmed, holder, &collection, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.VerifyMembership(unconfirmed, collection); !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected ErrUnverified for unconfirmed membership, got %v", err)
	}

	if err := ledger.VerifyMembership(newTestHash(0xEE), collection); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}
