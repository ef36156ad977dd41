package marketplace

import "errors"

var (
	errNilState   = errors.New("marketplace: state not configured")
	errNilAssets  = errors.New("marketplace: asset ledger not configured")
	errNilRewards = errors.New("marketplace: rewards engine not configured")

	// ErrNotInitialized is returned when an operation references a
	// marketplace name with no stored configuration.
	ErrNotInitialized = errors.New("marketplace: not initialized")
	// ErrAlreadyInitialized is returned when initialization names an existing
	// marketplace with a conflicting definition.
	ErrAlreadyInitialized = errors.New("marketplace: name already initialized")
	// ErrInvalidFee is returned when a fee rate exceeds 10000 basis points.
	ErrInvalidFee = errors.New("marketplace: fee basis points out of range")
	// ErrInvalidPrice is returned when a listing price is zero or negative.
	ErrInvalidPrice = errors.New("marketplace: price must be positive")
	// ErrAmountOverflow is returned when an amount exceeds the supported
	// integer width for fee arithmetic.
	ErrAmountOverflow = errors.New("marketplace: amount exceeds supported width")
	// ErrUnauthorized is returned when a caller attempts an admin- or
	// seller-only action without holding that role.
	ErrUnauthorized = errors.New("marketplace: caller not authorized")
	// ErrDuplicateListing is returned when the asset already has an active
	// listing.
	ErrDuplicateListing = errors.New("marketplace: asset already listed")
	// ErrListingNotFound is returned when the listing id does not resolve to
	// an active listing, including the losing side of a purchase race.
	ErrListingNotFound = errors.New("marketplace: listing not found")
	// ErrInsufficientFunds is returned when the buyer cannot cover the full
	// listing price.
	ErrInsufficientFunds = errors.New("marketplace: insufficient balance")
)
