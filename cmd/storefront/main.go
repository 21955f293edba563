package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/nopcommerce"
	"finitefield.org/storefront/internal/platform/config"
	pfirestore "finitefield.org/storefront/internal/platform/firestore"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/secrets"
	"finitefield.org/storefront/internal/storefront"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, closeStore, err := newStore(ctx, cfg.Storage, cfg.Session.Lifetime)
	if err != nil {
		logger.Fatal("failed to initialise key/value store", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("key/value store close error", zap.Error(err))
		}
	}()

	canonicalizer := catalog.NewCanonicalizer()
	if path := strings.TrimSpace(cfg.Catalog.AliasesFile); path != "" {
		if err := canonicalizer.LoadAliasesFile(path); err != nil {
			logger.Fatal("failed to load category aliases", zap.Error(err), zap.String("path", path))
		}
	}

	catalogOpts := []nopcommerce.Option{
		nopcommerce.WithTimeout(cfg.Catalog.Timeout),
		nopcommerce.WithProductsCache(store),
		nopcommerce.WithNormalizerOptions(
			catalog.WithDefaultCurrency(cfg.Catalog.DefaultCurrency),
			catalog.WithCanonicalizer(canonicalizer),
		),
	}
	if schema := catalog.SchemaByName(cfg.Catalog.Schema); schema != nil {
		catalogOpts = append(catalogOpts, nopcommerce.WithSchema(schema))
	}
	catalogClient, err := nopcommerce.NewClient(cfg.Catalog.BaseURL, catalogOpts...)
	if err != nil {
		logger.Fatal("failed to initialise catalog client", zap.Error(err))
	}

	backendClient, err := backend.NewClient(cfg.Backend.BaseURL, nil, cfg.Backend.Timeout)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	registry := cart.NewRegistry(cfg.Session.IdleTTL, time.Now)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("cart")
		memory, _ := store.(*kv.Memory)
		registry.Run(sweepCtx, cfg.Session.SweepInterval, func(removed int) {
			if removed > 0 {
				sweepLogger.Info("idle cart states evicted", zap.Int("count", removed), zap.Int("remaining", registry.Len()))
			}
			if memory != nil {
				if expired := memory.Sweep(); expired > 0 {
					sweepLogger.Info("expired session keys removed", zap.Int("count", expired))
				}
			}
		})
	}()

	cartLogger := logger.Named("cart")
	sessions, err := storefront.NewSessionServices(storefront.SessionServicesDeps{
		Store:       store,
		Registry:    registry,
		Remote:      backendClient,
		Catalog:     catalogClient,
		IsAuthError: backend.IsAuthError,
		OnChange: func(ctx context.Context, snap cart.Snapshot) {
			observability.FromContext(ctx).Debug("cart changed",
				zap.String("mode", string(snap.Mode)),
				zap.Int("count", snap.Totals.Count),
				zap.String("total", snap.Totals.Total),
				zap.Uint64("seq", snap.Seq),
			)
		},
		Logger: observability.FieldLogger(cartLogger),
		Meter:  otel.GetMeterProvider().Meter("finitefield.org/storefront"),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise session services", zap.Error(err))
	}

	sessionManager, err := storefront.NewSessionManager(storefront.SessionConfig{
		CookieName: cfg.Session.CookieName,
		HashKey:    []byte(cfg.Session.HashKey),
		BlockKey:   []byte(cfg.Session.BlockKey),
		Secure:     cfg.Session.Secure,
		Lifetime:   cfg.Session.Lifetime,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	router := storefront.NewRouter(
		storefront.WithMiddlewares(
			observability.TraceMiddleware(),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		storefront.WithSessionMiddlewares(sessionManager.Middleware()),
		storefront.WithHealthHandlers(storefront.NewHealthHandlers(time.Now)),
		storefront.WithCatalogRoutes(storefront.NewCatalogHandlers(catalogClient, cfg.Catalog.PageSize, canonicalizer).Routes),
		storefront.WithCartRoutes(storefront.NewCartHandlers(sessions).Routes),
		storefront.WithSessionRoutes(storefront.NewAccountHandlers(sessions, backendClient).Routes),
		storefront.WithOrderRoutes(storefront.NewOrderHandlers(sessions, backendClient).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening",
			zap.String("catalog", cfg.Catalog.BaseURL),
			zap.String("backend", cfg.Backend.BaseURL),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newStore opens the key/value backend selected by cfg.Driver and returns its closer. Keys expire ttl after
// their last write.
func newStore(ctx context.Context, cfg config.StorageConfig, ttl time.Duration) (kv.Store, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return kv.NewMemory(kv.WithMemoryTTL(ttl)), func() error { return nil }, nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := kv.NewRedis(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, kv.WithKeyPrefix("storefront:"), kv.WithTTL(ttl))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "firestore":
		provider := pfirestore.NewProvider(pfirestore.Config{
			ProjectID:    cfg.FirestoreProjectID,
			EmulatorHost: cfg.FirestoreEmulatorHost,
		})
		store, err := kv.NewFirestore(provider, cfg.FirestoreCollection, kv.WithFirestoreTTL(ttl))
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		return store, provider.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	fallbackPath := lookup("STOREFRONT_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("STOREFRONT_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}
