package marketplace

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// BpsDenominator is the parts-per-ten-thousand denominator for the
	// marketplace fee.
	BpsDenominator = 10_000
	// MaxAmountBits bounds prices and balances so fee arithmetic cannot
	// exceed the intermediate width used for computation.
	MaxAmountBits = 256
)

// Config is the singleton configuration of one deployed marketplace,
// keyed by its human-chosen name. The treasury and reward issuer are derived
// from the name and controlled exclusively by this record.
type Config struct {
	Name         string
	Admin        [20]byte
	FeeBps       uint32
	Treasury     [20]byte
	RewardIssuer [20]byte
	CreatedAt    int64
	UpdatedAt    int64
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Listing is a seller's durable offer to sell one asset at a fixed price. A
// listing exists if and only if its vault holds the asset.
type Listing struct {
	ID        [32]byte
	Market    string
	Seller    [20]byte
	AssetID   [32]byte
	Price     *big.Int
	Vault     [20]byte
	CreatedAt int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Receipt summarises a completed purchase: how the price split between the
// seller and the treasury, and the reward credit minted to the buyer.
type Receipt struct {
	ID             string
	ListingID      [32]byte
	Market         string
	AssetID        [32]byte
	Buyer          [20]byte
	Seller         [20]byte
	Price          *big.Int
	Fee            *big.Int
	SellerProceeds *big.Int
	RewardAmount   *big.Int
	Timestamp      int64
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Price = cloneBigInt(r.Price)
	clone.Fee = cloneBigInt(r.Fee)
	clone.SellerProceeds = cloneBigInt(r.SellerProceeds)
	clone.RewardAmount = cloneBigInt(r.RewardAmount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// NormalizeName canonicalises a marketplace name for consistent lookups.
func NormalizeName(name string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return "", fmt.Errorf("marketplace: name must not be empty")
	}
	return trimmed, nil
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with a non-nil price. The function does not mutate the
// original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	name, err := NormalizeName(clone.Market)
	if err != nil {
		return nil, err
	}
	clone.Market = name
	if clone.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("listing seller must not be zero")
	}
	if clone.Vault == ([20]byte{}) {
		return nil, fmt.Errorf("listing vault must not be zero")
	}
	return clone, nil
}

// DeriveTreasury returns the treasury account controlled by the named
// marketplace. No private key corresponds to the derived address.
func DeriveTreasury(name string) [20]byte {
	return deriveAuthority("marketplace/treasury", name, nil)
}

// DeriveRewardIssuer returns the reward-issuer authority controlled by the
// named marketplace.
func DeriveRewardIssuer(name string) [20]byte {
	return deriveAuthority("marketplace/rewards", name, nil)
}

// DeriveVault returns the custody address for the supplied listing. The
// listing sequence is folded into the listing id, so vault addresses are
// never reused after closure.
func DeriveVault(name string, listingID [32]byte) [20]byte {
	return deriveAuthority("marketplace/vault", name, listingID[:])
}

// DeriveListingID computes a deterministic listing identifier from the
// marketplace name, the asset and a per-market sequence number.
func DeriveListingID(name string, assetID [32]byte, seq uint64) [32]byte {
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return ethcrypto.Keccak256Hash([]byte(name), assetID[:], seqBytes[:])
}

func deriveAuthority(domain, name string, extra []byte) [20]byte {
	input := append([]byte(domain), []byte(name)...)
	if len(extra) > 0 {
		input = append(input, extra...)
	}
	hash := ethcrypto.Keccak256(input)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// SplitPrice computes the fee and seller proceeds for a price under the
// supplied fee rate: fee = floor(price * feeBps / 10000), proceeds =
// price - fee. The fee is computed once and the proceeds derived from it, so
// the two transfers always sum to the price exactly.
func SplitPrice(price *big.Int, feeBps uint32) (fee, proceeds *big.Int, err error) {
	if price == nil || price.Sign() <= 0 {
		return nil, nil, ErrInvalidPrice
	}
	if price.BitLen() > MaxAmountBits {
		return nil, nil, ErrAmountOverflow
	}
	if feeBps > BpsDenominator {
		return nil, nil, ErrInvalidFee
	}
	fee = new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(BpsDenominator))
	proceeds = new(big.Int).Sub(price, fee)
	return fee, proceeds, nil
}
