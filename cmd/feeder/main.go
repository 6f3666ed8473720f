package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mytrader/marketfeed/internal/catalog"
	"github.com/mytrader/marketfeed/internal/config"
	"github.com/mytrader/marketfeed/internal/database"
	"github.com/mytrader/marketfeed/internal/feed"
	"github.com/mytrader/marketfeed/internal/history"
	"github.com/mytrader/marketfeed/internal/hub"
	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/pricecache"
	"github.com/mytrader/marketfeed/internal/provider"
	"github.com/mytrader/marketfeed/internal/provider/binance"
	"github.com/mytrader/marketfeed/internal/provider/yahoo"
	"github.com/mytrader/marketfeed/internal/resilience"
	"github.com/mytrader/marketfeed/internal/scheduler"
	"github.com/mytrader/marketfeed/internal/stream"
	"github.com/mytrader/marketfeed/internal/symsync"
	"github.com/mytrader/marketfeed/internal/version"
)

const (
	shutdownTimeout      = 30 * time.Second
	statusCheckInterval  = time.Minute
	initialQueueCapacity = 1024
)

func main() {
	configPath := flag.String("config", "configs/feeder.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feeder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"binance_enabled", cfg.Providers.Binance.Enabled,
		"yahoo_enabled", cfg.Providers.Yahoo.Enabled,
		"stream_enabled", cfg.Stream.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to storage
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg.Database.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	logger.Info("storage connected")

	// Symbol catalog
	catalogSvc := catalog.NewService(
		catalog.Config{
			CacheTTL:             cfg.Catalog.CacheTTL,
			MinBroadcastInterval: cfg.Catalog.MinBroadcastInterval,
		},
		catalog.NewPGStore(pool),
		catalog.WithLogger(logger),
	)

	// Shared retry/breaker executor for provider calls
	exec := resilience.New(resilience.Config{
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		BaseDelay:        cfg.Resilience.BaseDelay,
		MaxDelay:         cfg.Resilience.MaxDelay,
		Multiplier:       cfg.Resilience.Multiplier,
		BreakerThreshold: cfg.Resilience.BreakerThreshold,
		BreakerTimeout:   cfg.Resilience.BreakerTimeout,
		BatchConcurrency: int64(cfg.Resilience.BatchConcurrency),
		DeadLetter:       cfg.Resilience.DeadLetterEnabled,
		DeadLetterCap:    cfg.Resilience.DeadLetterCap,
	}, resilience.WithLogger(logger))

	// Delivery side: hub, latest-price cache, history writer
	broadcastHub := hub.NewHub(logger)
	hubServer := hub.NewServer(hub.ServerConfig{
		ListenAddr: cfg.Hub.ListenAddr,
		OutboxSize: cfg.Hub.OutboxSize,
	}, broadcastHub, logger)

	cache := pricecache.New(rdb, cfg.Database.Redis.TTL)

	histWriter := history.NewWriter(history.Config{
		BatchSize:     cfg.History.BatchSize,
		FlushInterval: cfg.History.FlushInterval,
	}, pool, logger)

	// Missing-symbol registration
	registrar := symsync.NewProcessor(symsync.Config{
		BatchSize:      cfg.SymSync.BatchSize,
		MaxConcurrency: cfg.SymSync.MaxConcurrency,
		SkipExisting:   cfg.SymSync.SkipExisting,
	}, symsync.NewPGStore(pool), symsync.WithLogger(logger))

	// Pipeline: queue + dispatcher
	queue := feed.NewQueue[model.PricePoint](initialQueueCapacity, cfg.Hub.QueueSize)
	dispatcher := feed.NewDispatcher(
		feed.DispatcherConfig{SweepInterval: cfg.SymSync.SweepInterval},
		queue, broadcastHub, cache, histWriter, catalogSvc, registrar,
		feed.WithLogger(logger),
	)

	// Providers and their pollers
	type namedStopper struct {
		name string
		stop func(context.Context) error
	}
	var stoppers []namedStopper

	var binanceProvider *binance.Provider
	if cfg.Providers.Binance.Enabled {
		binanceProvider = binance.New(binance.Config{
			BaseURL:      cfg.Providers.Binance.BaseURL,
			Timeout:      cfg.Providers.Binance.Timeout,
			PollInterval: cfg.Providers.Binance.PollInterval,
		}, binance.WithLogger(logger))
	}

	var yahooProvider *yahoo.Provider
	if cfg.Providers.Yahoo.Enabled {
		yahooProvider = yahoo.New(yahoo.Config{
			BaseURL:      cfg.Providers.Yahoo.BaseURL,
			Timeout:      cfg.Providers.Yahoo.Timeout,
			PollInterval: cfg.Providers.Yahoo.PollInterval,
		}, yahoo.WithLogger(logger))
	}

	// Start order: delivery first, then the pipeline, then ingestion, so no
	// stage ever feeds into a stopped one.
	if err := histWriter.Start(ctx); err != nil {
		logger.Error("failed to start history writer", "error", err)
		os.Exit(1)
	}
	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	if err := hubServer.Start(ctx); err != nil {
		logger.Error("failed to start websocket server", "error", err)
		os.Exit(1)
	}

	if binanceProvider != nil {
		poller := scheduler.New(scheduler.Config{
			PollInterval:  cfg.Providers.Binance.PollInterval,
			RequestDelay:  cfg.Providers.Binance.RequestDelay,
			CycleCooldown: cfg.Scheduler.CycleCooldown,
			AssetClass:    model.AssetClassCrypto,
		}, binanceProvider, catalogSvc, exec, queue, logger)
		if err := poller.Start(ctx); err != nil {
			logger.Error("failed to start binance poller", "error", err)
			os.Exit(1)
		}
		stoppers = append(stoppers, namedStopper{"binance poller", poller.Stop})
	}

	if yahooProvider != nil {
		poller := scheduler.New(scheduler.Config{
			PollInterval:  cfg.Providers.Yahoo.PollInterval,
			RequestDelay:  cfg.Providers.Yahoo.RequestDelay,
			CycleCooldown: cfg.Scheduler.CycleCooldown,
			AssetClass:    model.AssetClassStock,
		}, yahooProvider, catalogSvc, exec, queue, logger)
		if err := poller.Start(ctx); err != nil {
			logger.Error("failed to start yahoo poller", "error", err)
			os.Exit(1)
		}
		stoppers = append(stoppers, namedStopper{"yahoo poller", poller.Stop})
	}

	if cfg.Stream.Enabled && binanceProvider != nil {
		symbols, err := catalogSvc.ActiveForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance)
		if err != nil {
			logger.Error("failed to load stream symbols", "error", err)
			os.Exit(1)
		}
		tickers := make([]string, len(symbols))
		for i, sym := range symbols {
			tickers[i] = sym.Ticker
		}
		if len(tickers) > 0 {
			reader := stream.NewReader(stream.Config{
				URL:                cfg.Stream.URL,
				Symbols:            tickers,
				ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
				ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
				ReadTimeout:        cfg.Stream.ReadTimeout,
			}, queue, logger)
			if err := reader.Start(ctx); err != nil {
				logger.Error("failed to start stream reader", "error", err)
				os.Exit(1)
			}
			stoppers = append(stoppers, namedStopper{"stream reader", reader.Stop})
		} else {
			logger.Warn("stream enabled but no active crypto symbols, skipping")
		}
	}

	// Market status watcher feeds the hub's status groups.
	statusProviders := make(map[model.AssetClass]provider.Provider)
	if binanceProvider != nil {
		statusProviders[model.AssetClassCrypto] = binanceProvider
	}
	if yahooProvider != nil {
		statusProviders[model.AssetClassStock] = yahooProvider
	}
	go watchMarketStatus(ctx, broadcastHub, logger, statusProviders)

	logger.Info("feeder running",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Hub.ListenAddr,
	)

	// Wait for shutdown or a fatal server error
	select {
	case <-ctx.Done():
	case err := <-hubServer.Err():
		logger.Error("websocket server failed", "error", err)
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Ingestion first so nothing new enters the pipeline.
	for _, s := range stoppers {
		if err := s.stop(shutdownCtx); err != nil {
			logger.Warn("component stop failed", "component", s.name, "error", err)
		}
	}

	// Let the dispatcher drain what is already queued.
	queue.Close()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop failed", "error", err)
	}
	if err := histWriter.Stop(shutdownCtx); err != nil {
		logger.Warn("history writer stop failed", "error", err)
	}
	if err := hubServer.Stop(shutdownCtx); err != nil {
		logger.Warn("websocket server stop failed", "error", err)
	}

	logger.Info("feeder stopped")
}

// watchMarketStatus polls each provider's venue status and publishes
// changes to the hub.
func watchMarketStatus(ctx context.Context, h *hub.Hub, logger *slog.Logger, providers map[model.AssetClass]provider.Provider) {
	ticker := time.NewTicker(statusCheckInterval)
	defer ticker.Stop()

	check := func() {
		for assetClass, p := range providers {
			if p == nil {
				continue
			}
			status, err := p.GetMarketStatus(ctx, p.Market())
			if err != nil {
				logger.Debug("market status check failed",
					"provider", p.Name(),
					"error", err,
				)
				continue
			}
			prev, known := h.MarketStatus(assetClass)
			if !known || prev.IsOpen != status.IsOpen || prev.Status != status.Status {
				h.PublishMarketStatus(assetClass, status)
			}
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
