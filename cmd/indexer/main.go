// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package main provides the CLI for the CLOB order book indexer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/api"
	"github.com/luxfi/clob-indexer/config"
	"github.com/luxfi/clob-indexer/evm"
	"github.com/luxfi/clob-indexer/indexer"
	"github.com/luxfi/clob-indexer/projector"
	"github.com/luxfi/clob-indexer/storage"
	_ "github.com/luxfi/clob-indexer/storage/kv"
	_ "github.com/luxfi/clob-indexer/storage/query"
	"github.com/luxfi/clob-indexer/tokens"
)

var version = "dev"

func main() {
	var (
		configFile  = flag.String("config", "", "Path to indexer.yaml")
		chainName   = flag.String("chain", "", "Chain preset: monad-testnet, rise-sepolia")
		rpcEndpoint = flag.String("rpc", "", "JSON-RPC endpoint (overrides config)")
		databaseURL = flag.String("db", "", "Database URL or path (overrides config)")
		httpPort    = flag.Int("port", -1, "HTTP API port, 0 disables (overrides config)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("clob-indexer %s\n", version)
		os.Exit(0)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(*configFile, *chainName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *rpcEndpoint != "" {
		cfg.Chain.RPC = *rpcEndpoint
	}
	if *databaseURL != "" {
		cfg.Storage.URL = *databaseURL
		if strings.HasPrefix(*databaseURL, "postgres://") || strings.HasPrefix(*databaseURL, "postgresql://") {
			cfg.Storage.Backend = string(storage.BackendPostgres)
		}
	}
	if *httpPort >= 0 {
		cfg.API.Port = httpPort
	}
	if err := cfg.Validate(); err != nil {
		flag.Usage()
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("indexer failed", zap.Error(err))
	}
	logger.Info("indexer stopped")
}

func loadConfig(path, chain string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default(chain)
	}
	if chain != "" && !strings.EqualFold(cfg.Chain.Name, chain) {
		cfg.Chain.Name = chain
		cfg.ApplyDefaults()
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	storeCfg, err := cfg.Storage.Store()
	if err != nil {
		return err
	}
	store, err := storage.New(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	client := evm.NewClient(cfg.Chain.RPC)
	resolver, err := tokens.NewResolver(tokens.Config{
		ChainID:   cfg.Chain.ChainID,
		Dir:       cfg.Tokens.Dir,
		CacheSize: cfg.Tokens.CacheSize,
	}, client, logger.Named("tokens"))
	if err != nil {
		return err
	}

	source := evm.NewSource(client, evm.SourceConfig{
		Address:       cfg.Chain.BookManager,
		BatchSize:     cfg.Chain.BatchSize,
		Confirmations: cfg.Chain.Confirmations,
		PollInterval:  cfg.Chain.Poll(),
	}, logger.Named("source"))

	hub := api.NewHub(logger.Named("ws"))
	go hub.Run(ctx)

	if port := *cfg.API.Port; port > 0 {
		server := api.NewServer(store, hub, logger.Named("api"))
		go func() {
			if err := server.ListenAndServe(ctx, fmt.Sprintf(":%d", port)); err != nil {
				logger.Error("api server failed", zap.Error(err))
			}
		}()
	}

	proj := projector.New(store, resolver, logger.Named("projector"))
	idx := indexer.New(indexer.Config{
		ChainID:    cfg.Chain.ChainID,
		StartBlock: cfg.Chain.StartBlock,
	}, store, source, proj, hub, logger.Named("indexer"))

	logger.Info("starting indexer",
		zap.String("version", version),
		zap.String("chain", cfg.Chain.Name),
		zap.Uint64("chain_id", cfg.Chain.ChainID),
		zap.String("book_manager", cfg.Chain.BookManager),
		zap.String("storage", cfg.Storage.Backend))
	return idx.Run(ctx)
}
