package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"assetmarket/native/assets"
	"assetmarket/native/marketplace"
	"assetmarket/observability"
	"assetmarket/storage"
)

type marketInitializeParams struct {
	Admin  string `json:"admin"`
	Name   string `json:"name"`
	FeeBps uint32 `json:"feeBps"`
}

type marketUpdateFeeParams struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
	FeeBps uint32 `json:"feeBps"`
}

type marketListParams struct {
	Market     string `json:"market"`
	Seller     string `json:"seller"`
	AssetID    string `json:"assetId"`
	Collection string `json:"collection"`
	Price      string `json:"price"`
}

type marketDelistParams struct {
	Caller    string `json:"caller"`
	ListingID string `json:"listingId"`
}

type marketPurchaseParams struct {
	Buyer     string `json:"buyer"`
	ListingID string `json:"listingId"`
}

type marketNameParams struct {
	Name string `json:"name"`
}

type marketListingParams struct {
	ListingID string `json:"listingId"`
}

type marketReceiptParams struct {
	ReceiptID string `json:"receiptId"`
}

type marketBalanceParams struct {
	Address string `json:"address"`
}

type assetsRegisterParams struct {
	AssetID    string `json:"assetId"`
	Holder     string `json:"holder"`
	Collection string `json:"collection,omitempty"`
	Verified   bool   `json:"verified"`
}

type assetsGetParams struct {
	AssetID string `json:"assetId"`
}

type configJSON struct {
	Name         string `json:"name"`
	Admin        string `json:"admin"`
	FeeBps       uint32 `json:"feeBps"`
	Treasury     string `json:"treasury"`
	RewardIssuer string `json:"rewardIssuer"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

type listingJSON struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	Seller    string `json:"seller"`
	AssetID   string `json:"assetId"`
	Price     string `json:"price"`
	Vault     string `json:"vault"`
	CreatedAt int64  `json:"createdAt"`
}

type receiptJSON struct {
	ID             string `json:"id"`
	ListingID      string `json:"listingId"`
	Market         string `json:"market"`
	AssetID        string `json:"assetId"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	Price          string `json:"price"`
	Fee            string `json:"fee"`
	SellerProceeds string `json:"sellerProceeds"`
	RewardAmount   string `json:"rewardAmount"`
	Timestamp      int64  `json:"timestamp"`
}

type balanceJSON struct {
	Address       string `json:"address"`
	Balance       string `json:"balance"`
	RewardBalance string `json:"rewardBalance"`
}

type assetJSON struct {
	ID                 string `json:"id"`
	Holder             string `json:"holder"`
	Collection         string `json:"collection,omitempty"`
	CollectionVerified bool   `json:"collectionVerified"`
	RegisteredAt       int64  `json:"registeredAt"`
}

func configToJSON(c *marketplace.Config) configJSON {
	return configJSON{
		Name:         c.Name,
		Admin:        hex.EncodeToString(c.Admin[:]),
		FeeBps:       c.FeeBps,
		Treasury:     hex.EncodeToString(c.Treasury[:]),
		RewardIssuer: hex.EncodeToString(c.RewardIssuer[:]),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func listingToJSON(l *marketplace.Listing) listingJSON {
	return listingJSON{
		ID:        hex.EncodeToString(l.ID[:]),
		Market:    l.Market,
		Seller:    hex.EncodeToString(l.Seller[:]),
		AssetID:   hex.EncodeToString(l.AssetID[:]),
		Price:     l.Price.String(),
		Vault:     hex.EncodeToString(l.Vault[:]),
		CreatedAt: l.CreatedAt,
	}
}

func receiptToJSON(r *marketplace.Receipt) receiptJSON {
	return receiptJSON{
		ID:             r.ID,
		ListingID:      hex.EncodeToString(r.ListingID[:]),
		Market:         r.Market,
		AssetID:        hex.EncodeToString(r.AssetID[:]),
		Buyer:          hex.EncodeToString(r.Buyer[:]),
		Seller:         hex.EncodeToString(r.Seller[:]),
		Price:          r.Price.String(),
		Fee:            r.Fee.String(),
		SellerProceeds: r.SellerProceeds.String(),
		RewardAmount:   r.RewardAmount.String(),
		Timestamp:      r.Timestamp,
	}
}

func parsePositiveBigInt(v string) (*big.Int, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func (s *Server) handleMarketInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params marketInitializeParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	admin, err := parseAddress(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var cfg *marketplace.Config
	err = s.store.Exec(func(*storage.State) error {
		var execErr error
		cfg, execErr = s.market.Initialize(admin, params.Name, params.FeeBps)
		return execErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, configToJSON(cfg))
	return nil
}

func (s *Server) handleMarketUpdateFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params marketUpdateFeeParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	err = s.store.Exec(func(*storage.State) error {
		return s.market.UpdateFee(caller, params.Name, params.FeeBps)
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return nil
}

func (s *Server) handleMarketList(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params marketListParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	assetID, err := parseHash(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	collection, err := parseHash(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var listing *marketplace.Listing
	err = s.store.Exec(func(st *storage.State) error {
		var execErr error
		listing, execErr = s.market.List(params.Market, seller, assetID, collection, price)
		if execErr == nil {
			observability.Market().SetActiveListings(st.ListingCount())
		}
		return execErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, listingToJSON(listing))
	return nil
}

func (s *Server) handleMarketDelist(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params marketDelistParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	listingID, err := parseHash(params.ListingID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	err = s.store.Exec(func(st *storage.State) error {
		if execErr := s.market.Delist(caller, listingID); execErr != nil {
			return execErr
		}
		observability.Market().SetActiveListings(st.ListingCount())
		return nil
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return nil
}

func (s *Server) handleMarketPurchase(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params marketPurchaseParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	listingID, err := parseHash(params.ListingID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var receipt *marketplace.Receipt
	err = s.store.Exec(func(st *storage.State) error {
		var execErr error
		receipt, execErr = s.market.Purchase(buyer, listingID)
		if execErr == nil {
			observability.Market().RecordTrade()
			observability.Market().SetActiveListings(st.ListingCount())
		}
		return execErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, receiptToJSON(receipt))
	return nil
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, req *RPCRequest) error {
	var params marketListingParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	listingID, err := parseHash(params.ListingID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var listing *marketplace.Listing
	err = s.store.View(func(*storage.State) error {
		var viewErr error
		listing, viewErr = s.market.GetListing(listingID)
		return viewErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, listingToJSON(listing))
	return nil
}

func (s *Server) handleMarketGetConfig(w http.ResponseWriter, req *RPCRequest) error {
	var params marketNameParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var cfg *marketplace.Config
	err := s.store.View(func(*storage.State) error {
		var viewErr error
		cfg, viewErr = s.market.GetConfig(params.Name)
		return viewErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, configToJSON(cfg))
	return nil
}

func (s *Server) handleMarketGetReceipt(w http.ResponseWriter, req *RPCRequest) error {
	var params marketReceiptParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var receipt *marketplace.Receipt
	err := s.store.View(func(*storage.State) error {
		var viewErr error
		receipt, viewErr = s.market.GetReceipt(strings.TrimSpace(params.ReceiptID))
		return viewErr
	})
	if err != nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "not_found", err.Error())
		return err
	}
	writeResult(w, req.ID, receiptToJSON(receipt))
	return nil
}

func (s *Server) handleMarketGetBalance(w http.ResponseWriter, req *RPCRequest) error {
	var params marketBalanceParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var result balanceJSON
	err = s.store.View(func(st *storage.State) error {
		account, viewErr := st.GetAccount(addr[:])
		if viewErr != nil {
			return viewErr
		}
		result = balanceJSON{
			Address:       hex.EncodeToString(addr[:]),
			Balance:       account.Balance.String(),
			RewardBalance: account.RewardBalance.String(),
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, result)
	return nil
}

func (s *Server) handleAssetsRegister(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return fmt.Errorf("unauthorized")
	}
	var params assetsRegisterParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	assetID, err := parseHash(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	holder, err := parseAddress(params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var collection *[32]byte
	if strings.TrimSpace(params.Collection) != "" {
		parsed, err := parseHash(params.Collection)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return err
		}
		collection = &parsed
	}
	var asset *assets.Asset
	err = s.store.Exec(func(*storage.State) error {
		var execErr error
		asset, execErr = s.ledger.Register(assetID, holder, collection, params.Verified)
		return execErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, assetToJSON(asset))
	return nil
}

func (s *Server) handleAssetsGet(w http.ResponseWriter, req *RPCRequest) error {
	var params assetsGetParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	assetID, err := parseHash(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	var asset *assets.Asset
	err = s.store.View(func(*storage.State) error {
		var viewErr error
		asset, viewErr = s.ledger.Get(assetID)
		return viewErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, assetToJSON(asset))
	return nil
}

func assetToJSON(a *assets.Asset) assetJSON {
	out := assetJSON{
		ID:                 hex.EncodeToString(a.ID[:]),
		Holder:             hex.EncodeToString(a.Holder[:]),
		CollectionVerified: a.CollectionVerified,
		RegisteredAt:       a.RegisteredAt,
	}
	if a.HasCollection {
		out.Collection = hex.EncodeToString(a.Collection[:])
	}
	return out
}
