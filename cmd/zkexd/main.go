package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"zkex/config"
	"zkex/core"
	zkexerrors "zkex/core/errors"
	"zkex/native/mode"
	"zkex/observability/logging"
	"zkex/observability/metrics"
	"zkex/rpc"
	"zkex/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ZKEX_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("zkexd", env, logging.Options{FilePath: cfg.LogFile})

	db, err := openBackend(cfg)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	params := core.Params{
		ExchangeID:                           cfg.Exchange.ExchangeID,
		Operator:                             common.HexToAddress(cfg.Exchange.Operator),
		Owner:                                common.HexToAddress(cfg.Exchange.Owner),
		MaxNumTokens:                         cfg.Exchange.MaxNumTokens,
		MaxOpenForcedRequests:                cfg.Exchange.MaxOpenForcedRequests,
		ForcedRequestFee:                     cfg.ForcedFee(),
		MaxAgeDepositUntilWithdrawable:       cfg.DepositMaxAge(),
		MaxAgeForcedRequestUntilWithdrawMode: cfg.ForcedTriggerAge(),
		MinTimeInShutdown:                    cfg.ShutdownGrace(),
		TreeDepth:                            cfg.Exchange.TreeDepth,
		TokenBits:                            cfg.Exchange.TokenBits,
	}

	registry := prometheus.NewRegistry()
	exchangeMetrics := metrics.NewExchange()
	if err := exchangeMetrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	// The verifier and stake registry are external capabilities. Without
	// explicit opt-in the verifier rejects every proof; stake is optional
	// (no bond means nothing to forfeit).
	verifier := loadVerifier(logger)
	var stake mode.StakeRegistry

	ex, err := core.NewExchange(db, params, verifier, stake,
		core.WithLogger(logger),
		core.WithMetrics(exchangeMetrics),
	)
	if err != nil {
		logger.Error("failed to construct exchange", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	genesisRoot := common.HexToHash(cfg.Exchange.GenesisRoot)
	nativeToken := common.HexToAddress(cfg.Exchange.NativeToken)
	if err := ex.Initialize(ctx, genesisRoot, nativeToken); err != nil {
		if zkexerrors.CodeOf(err) != "ALREADY_INITIALIZED" {
			logger.Error("genesis init failed", "err", err)
			os.Exit(1)
		}
		// An already-initialized store is the normal restart path.
		logger.Info("skipping genesis init")
	}

	server := rpc.NewServer(ex, rpc.Options{
		ListenAddress: cfg.ListenAddress,
		OperatorToken: cfg.OperatorToken,
		SubmitRate:    1,
		Logger:        logger,
		Registry:      registry,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("rpc server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}
}

func openBackend(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "zkex.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	}
}
