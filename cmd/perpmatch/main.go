package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/perpmatch/internal/config"
	"github.com/efreitasn/perpmatch/internal/handler"
	"github.com/efreitasn/perpmatch/internal/service"
	"github.com/efreitasn/perpmatch/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Instantiate stores.
	accountStore := store.NewAccountStore()
	positionStore := store.NewPositionStore(accountStore)
	fillStore := store.NewFillStore()
	webhookStore := store.NewWebhookStore()

	// One order book per configured market.
	markets := make([]*service.Market, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		m, err := service.NewMarket(mc.Engine(), accountStore, positionStore, cfg.MatchLimit, logger)
		if err != nil {
			logger.Error("failed to create market", slog.String("market", mc.Name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if oracle := mc.Oracle(); oracle.IsPositive() {
			if err := m.SetOraclePrice(oracle); err != nil {
				logger.Error("invalid oracle price", slog.String("market", mc.Name), slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		markets = append(markets, m)
		logger.Info("market loaded",
			slog.String("market", mc.Name),
			slog.Int64("base_lot_size", mc.BaseLotSize),
			slog.Int64("quote_lot_size", mc.QuoteLotSize),
			slog.Int("book_capacity", mc.BookCapacity),
			slog.Int("event_queue_capacity", mc.EventQueueCapacity),
		)
	}
	registry, err := service.NewRegistry(markets...)
	if err != nil {
		logger.Error("failed to register markets", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Services.
	webhookSvc := service.NewWebhookService(webhookStore, accountStore, cfg.WebhookTimeout, logger)
	accountSvc := service.NewAccountService(accountStore, positionStore, fillStore, webhookStore)
	crank := service.NewCrank(cfg.CrankInterval, cfg.ExpireLimit, cfg.SettleLimit, registry, fillStore, webhookSvc, logger)

	router := handler.NewRouter(accountSvc, webhookSvc, registry, crank, logger)

	// Start the crank with a cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	crank.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	stats := crank.Stats()
	logger.Info("server stopped",
		slog.Uint64("crank_ticks", stats.Ticks),
		slog.Uint64("fills_settled", stats.Fills),
		slog.Uint64("events_missed", stats.Missed),
	)
}
