package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/divvychat/divvychat/internal/api"
	"github.com/divvychat/divvychat/internal/config"
	"github.com/divvychat/divvychat/internal/logging"
	"github.com/divvychat/divvychat/internal/provider/openaicompat"
	"github.com/divvychat/divvychat/internal/service/admission"
	"github.com/divvychat/divvychat/internal/service/budget"
	"github.com/divvychat/divvychat/internal/service/pipeline"
	"github.com/divvychat/divvychat/internal/service/respcache"
	"github.com/divvychat/divvychat/internal/storage"
	"github.com/divvychat/divvychat/internal/store"
	"github.com/divvychat/divvychat/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logging
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting divvychat router",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port))

	loc, err := cfg.Budget.Location()
	if err != nil {
		logger.Error("failed to resolve budget timezone", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize shared store: Redis when configured, in-memory otherwise
	var sharedStore store.Store
	if cfg.Store.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		sharedStore = store.NewRedis(client, store.WithKeyPrefix(cfg.Store.Redis.KeyPrefix))
		logger.Info("using redis store", slog.String("addr", cfg.Store.Redis.Addr))
	} else {
		sharedStore = store.NewMemory()
		logger.Warn("no redis configured, using in-memory store (single instance only)")
	}

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := sharedStore.Ping(pingCtx); err != nil {
		logger.Error("shared store unreachable", slog.String("error", err.Error()))
	}
	cancel()

	// Initialize database
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize stores
	messageStore := storage.NewMessageStore(db)
	costStore := storage.NewCostStore(db)

	// Initialize provider
	tierModels := map[models.Tier]string{
		models.TierLow:  cfg.Provider.ModelFor(models.TierLow),
		models.TierMid:  cfg.Provider.ModelFor(models.TierMid),
		models.TierHigh: cfg.Provider.ModelFor(models.TierHigh),
	}
	prov := openaicompat.New("openai", cfg.Provider.BaseURL, cfg.Provider.APIKey, tierModels,
		openaicompat.WithTimeout(cfg.Provider.Timeout),
		openaicompat.WithMaxTokens(cfg.Provider.MaxTokens),
		openaicompat.WithRateLimit(cfg.Provider.RequestsPerSecond))
	logger.Info("initialized model provider",
		slog.String("base_url", cfg.Provider.BaseURL),
		slog.String("model_low", tierModels[models.TierLow]),
		slog.String("model_mid", tierModels[models.TierMid]),
		slog.String("model_high", tierModels[models.TierHigh]))

	// Initialize services
	limiter := admission.New(sharedStore,
		cfg.RateLimit.GeneralPerMinute,
		cfg.RateLimit.ProviderPerMinute,
		cfg.RateLimit.Window,
		cfg.RateLimit.MaxConversationTurns,
		admission.WithLogger(logger),
		admission.WithBusinessHours(
			cfg.RateLimit.BusinessHoursStart,
			cfg.RateLimit.BusinessHoursEnd,
			cfg.RateLimit.BusinessHoursMultiplier,
			loc))

	accountant := budget.New(sharedStore, cfg.Pricing.Table(),
		cfg.Budget.DailyCapPerCaller, cfg.Budget.DailyCapGlobal,
		budget.WithLogger(logger),
		budget.WithWarnThreshold(cfg.Budget.WarnThreshold),
		budget.WithLocation(loc))

	cache := respcache.New(sharedStore, respcache.TTLs{
		Low:  cfg.Cache.TTLFor(models.TierLow),
		Mid:  cfg.Cache.TTLFor(models.TierMid),
		High: cfg.Cache.TTLFor(models.TierHigh),
	}, respcache.WithLogger(logger))

	router := pipeline.New(limiter, accountant, cache, prov, messageStore, costStore,
		pipeline.WithLogger(logger),
		pipeline.WithCurrency(cfg.Pricing.Currency))

	// Initialize API server (not ready yet)
	server := api.New(router, accountant, sharedStore,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port),
		api.WithCostStore(costStore),
		api.WithDB(db))

	// Mark server as ready
	server.SetReady(true)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		// Mark server as not ready to stop accepting new requests
		server.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	// Start server
	if err := server.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
