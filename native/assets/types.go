package assets

import "fmt"

// Asset records the custody and collection metadata for a single
// non-fungible asset tracked by the ledger. Exactly one holder controls an
// asset at any time.
type Asset struct {
	ID                 [32]byte
	Holder             [20]byte
	Collection         [32]byte
	HasCollection      bool
	CollectionVerified bool
	RegisteredAt       int64
}

// Clone returns a copy of the asset so callers can safely mutate the copy
// without affecting the stored instance.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// SanitizeAsset validates the supplied asset record and returns a cloned
// instance. The function does not mutate the original value.
func SanitizeAsset(a *Asset) (*Asset, error) {
	if a == nil {
		return nil, fmt.Errorf("nil asset")
	}
	if a.ID == ([32]byte{}) {
		return nil, fmt.Errorf("asset id must not be zero")
	}
	if a.Holder == ([20]byte{}) {
		return nil, fmt.Errorf("asset holder must not be zero")
	}
	if !a.HasCollection && a.CollectionVerified {
		return nil, fmt.Errorf("asset cannot be verified without a collection reference")
	}
	return a.Clone(), nil
}
