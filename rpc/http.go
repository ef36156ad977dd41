package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetmarket/native/assets"
	"assetmarket/native/marketplace"
	"assetmarket/native/rewards"
	"assetmarket/observability"
	"assetmarket/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// AuthTokenEnv names the environment variable holding the bearer token
	// required for mutating methods. When unset, mutating methods are open.
	AuthTokenEnv = "MARKETD_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32002
	codeForbidden      = -32003
	codeConflict       = -32004
	codeUnverified     = -32005
	codeInsufficient   = -32006
)

// Server exposes the marketplace engines over JSON-RPC.
type Server struct {
	store     *storage.Store
	market    *marketplace.Engine
	ledger    *assets.Ledger
	authToken string
	log       *slog.Logger
}

// NewServer constructs an RPC server bound to the supplied store and engines.
func NewServer(store *storage.Store, market *marketplace.Engine, ledger *assets.Ledger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:     store,
		market:    market,
		ledger:    ledger,
		authToken: strings.TrimSpace(os.Getenv(AuthTokenEnv)),
		log:       log,
	}
}

// Start serves JSON-RPC on addr, with prometheus metrics on /metrics.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handle)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

// RPCRequest is the JSON-RPC request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "Bearer "+s.authToken {
		return nil
	}
	return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing or invalid bearer token"}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}

	started := time.Now()
	outcomeErr := s.dispatch(w, r, &req)
	observability.Market().Observe(metricOperation(req.Method), time.Since(started), outcomeErr)
}

// rpcMethods names every served method; used to keep caller-supplied method
// strings out of metric labels.
var rpcMethods = map[string]struct{}{
	"market_initialize": {},
	"market_updateFee":  {},
	"market_list":       {},
	"market_delist":     {},
	"market_purchase":   {},
	"market_getListing": {},
	"market_getConfig":  {},
	"market_getReceipt": {},
	"market_getBalance": {},
	"assets_register":   {},
	"assets_get":        {},
}

// metricOperation collapses unrecognised method names to a single label so
// arbitrary request strings cannot grow the metric vectors without bound.
func metricOperation(method string) string {
	if _, ok := rpcMethods[method]; ok {
		return method
	}
	return "unknown"
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	switch req.Method {
	case "market_initialize":
		return s.handleMarketInitialize(w, r, req)
	case "market_updateFee":
		return s.handleMarketUpdateFee(w, r, req)
	case "market_list":
		return s.handleMarketList(w, r, req)
	case "market_delist":
		return s.handleMarketDelist(w, r, req)
	case "market_purchase":
		return s.handleMarketPurchase(w, r, req)
	case "market_getListing":
		return s.handleMarketGetListing(w, req)
	case "market_getConfig":
		return s.handleMarketGetConfig(w, req)
	case "market_getReceipt":
		return s.handleMarketGetReceipt(w, req)
	case "market_getBalance":
		return s.handleMarketGetBalance(w, req)
	case "assets_register":
		return s.handleAssetsRegister(w, r, req)
	case "assets_get":
		return s.handleAssetsGet(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return fmt.Errorf("method not found")
	}
}

// writeEngineError maps typed engine failures onto JSON-RPC error codes so
// callers can distinguish the failure class without string matching.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, marketplace.ErrListingNotFound),
		errors.Is(err, marketplace.ErrNotInitialized),
		errors.Is(err, assets.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, "not_found", err.Error())
	case errors.Is(err, marketplace.ErrUnauthorized),
		errors.Is(err, rewards.ErrUnauthorizedIssuer):
		writeError(w, http.StatusForbidden, id, codeForbidden, "forbidden", err.Error())
	case errors.Is(err, marketplace.ErrDuplicateListing),
		errors.Is(err, marketplace.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeConflict, "conflict", err.Error())
	case errors.Is(err, assets.ErrUnverified):
		writeError(w, http.StatusUnprocessableEntity, id, codeUnverified, "unverified", err.Error())
	case errors.Is(err, marketplace.ErrInsufficientFunds),
		errors.Is(err, assets.ErrNotHolder):
		writeError(w, http.StatusUnprocessableEntity, id, codeInsufficient, "insufficient_resources", err.Error())
	case errors.Is(err, marketplace.ErrInvalidFee),
		errors.Is(err, marketplace.ErrInvalidPrice),
		errors.Is(err, marketplace.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "server_error", err.Error())
	}
}

func singleParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(v string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", v)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes", len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseHash(v string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("invalid identifier %q", v)
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("identifier must be %d bytes", len(hash))
	}
	copy(hash[:], raw)
	return hash, nil
}
