package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"assetmarket/config"
	"assetmarket/native/assets"
	"assetmarket/native/marketplace"
	"assetmarket/native/rewards"
	"assetmarket/observability/logging"
	"assetmarket/rpc"
	"assetmarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the marketd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("marketd", cfg.Environment, cfg.LogFile)

	admin, err := cfg.AdminAddress()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	marketName, err := marketplace.NormalizeName(cfg.Marketplace.Name)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	minSpend, err := cfg.RewardMinSpend()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	capPerTx, err := cfg.RewardCapPerTx()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "market.db"))
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	state := store.State()
	state.SetRewardConfig(&rewards.Config{
		RateBps:  cfg.Rewards.RateBps,
		MinSpend: minSpend,
		CapPerTx: capPerTx,
	})

	ledger := assets.NewLedger()
	ledger.SetState(state)

	rewardEngine := rewards.NewEngine()
	rewardEngine.SetState(state)
	rewardEngine.SetIssuer(marketplace.DeriveRewardIssuer(marketName))

	market := marketplace.NewEngine(ledger, rewardEngine)
	market.SetState(state)

	err = store.Exec(func(*storage.State) error {
		_, initErr := market.Initialize(admin, marketName, cfg.Marketplace.FeeBps)
		if errors.Is(initErr, marketplace.ErrAlreadyInitialized) {
			// The market survives restarts; apply a changed fee instead.
			return market.UpdateFee(admin, marketName, cfg.Marketplace.FeeBps)
		}
		return initErr
	})
	if err != nil {
		logger.Error("initialize marketplace", "market", marketName, "error", err)
		os.Exit(1)
	}
	logger.Info("marketplace ready", "market", marketName, "feeBps", cfg.Marketplace.FeeBps)

	server := rpc.NewServer(store, market, ledger, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
}
