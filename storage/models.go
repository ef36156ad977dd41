package storage

// Row types persisted through gorm. Amounts are stored as base-10 strings so
// values wider than 64 bits round-trip exactly; addresses and identifiers are
// stored hex-encoded.

type accountRow struct {
	Address       string `gorm:"primaryKey;size:40"`
	Balance       string
	RewardBalance string
}

func (accountRow) TableName() string { return "accounts" }

type rewardMeterRow struct {
	Address string `gorm:"primaryKey;size:40"`
	Total   string
}

func (rewardMeterRow) TableName() string { return "reward_meters" }

type assetRow struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Holder             string `gorm:"size:40"`
	Collection         string `gorm:"size:64"`
	HasCollection      bool
	CollectionVerified bool
	RegisteredAt       int64
}

func (assetRow) TableName() string { return "assets" }

type marketRow struct {
	Name         string `gorm:"primaryKey;size:64"`
	Admin        string `gorm:"size:40"`
	FeeBps       uint32
	Treasury     string `gorm:"size:40"`
	RewardIssuer string `gorm:"size:40"`
	CreatedAt    int64
	UpdatedAt    int64
}

func (marketRow) TableName() string { return "markets" }

type listingRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Market    string `gorm:"size:64"`
	Seller    string `gorm:"size:40"`
	AssetID   string `gorm:"uniqueIndex;size:64"`
	Price     string
	Vault     string `gorm:"size:40"`
	CreatedAt int64
}

func (listingRow) TableName() string { return "listings" }

type sequenceRow struct {
	Market string `gorm:"primaryKey;size:64"`
	Next   uint64
}

func (sequenceRow) TableName() string { return "listing_sequences" }

type receiptRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	ListingID      string `gorm:"size:64"`
	Market         string `gorm:"size:64"`
	AssetID        string `gorm:"size:64"`
	Buyer          string `gorm:"size:40"`
	Seller         string `gorm:"size:40"`
	Price          string
	Fee            string
	SellerProceeds string
	RewardAmount   string
	Timestamp      int64
}

func (receiptRow) TableName() string { return "receipts" }
