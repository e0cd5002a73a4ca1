package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"libris/internal/api"
	"libris/internal/assistant"
	"libris/internal/config"
	"libris/internal/database"
	"libris/internal/domain"
	"libris/internal/events"
	"libris/internal/fixtures"
	"libris/internal/logging"
	"libris/internal/metrics"
	"libris/internal/repository"
	"libris/internal/service"
	"libris/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ledgerStore is a storage backend that also keeps the assistant audit log.
type ledgerStore interface {
	domain.Store
	domain.AuditLogger
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() (err error) {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { err = multierr.Append(err, closer.Close()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := fixtures.Load(cfg.Seed.Path)
	if err != nil {
		logger.Error().Err(err).Str("seed_path", cfg.Seed.Path).Msg("load fixtures")
		return err
	}

	store, health, err := initStore(ctx, cfg, set, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	policy, err := service.PolicyFromConfig(cfg.Ledger)
	if err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { err = multierr.Append(err, repository.Close(redisClient)) }()
	}

	// Background workers finish before the store and redis are closed.
	var wg sync.WaitGroup
	defer wg.Wait()

	if db, ok := store.(*database.DB); ok {
		backups := database.NewBackupService(db, cfg.Database.Backup, logging.Component(logger, "backup"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			backups.Start(ctx)
		}()
	}

	eventBus := events.NewEventBus()
	if redisClient != nil && cfg.Events.ForwardEnabled {
		forwarder := worker.NewEventForwarder(redisClient, cfg.Events, worker.RetryPolicy{}, logging.Component(logger, "forwarder"))
		forwarder.Attach(eventBus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwarder.Start(ctx)
		}()
	}

	stateRepo := initStateRepository(cfg, redisClient, logger)

	bookings := service.NewBookingService(store, policy, eventBus, logging.Component(logger, "bookings"))
	purchases := service.NewPurchaseService(store, eventBus, logging.Component(logger, "purchases"))
	catalog := service.NewCatalogService(store)
	state := service.NewStateService(stateRepo, cfg.Assistant.SessionTTL, logging.Component(logger, "state"))

	helper := assistant.New(assistant.Deps{
		Bookings:  bookings,
		Purchases: purchases,
		Catalog:   catalog,
		State:     state,
		Audit:     store,
	}, cfg.Assistant, logging.Component(logger, "assistant"))

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Bookings:  bookings,
		Purchases: purchases,
		Catalog:   catalog,
		Assistant: helper,
		Health:    health,
	}, logging.Component(logger, "http"))

	startMetrics(ctx, cfg, &wg, logger)

	err = serve(ctx, httpServer, cfg, logger)
	stop()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// initStore opens the configured backend and seeds it. The returned health
// check is nil for the in-memory store.
func initStore(ctx context.Context, cfg *config.Config, set *fixtures.Set, logger *zerolog.Logger) (ledgerStore, func(context.Context) error, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return repository.NewFixtureStore(set), nil, nil
	}

	db, err := database.NewDB(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}
	if err := db.Seed(ctx, set); err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("seed database: %w", err), db.Close())
	}
	return db, db.PingContext, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initStateRepository(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.StateRepository {
	memory := repository.NewMemoryStateRepository(cfg.Assistant.SessionTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisStateRepository(redisClient, cfg.Assistant.SessionTTL)
	return repository.NewFailoverStateRepository(primary, memory, logging.Component(logger, "state-failover"))
}

func startMetrics(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	wg.Add(1)
	go func() {
		defer wg.Done()
		startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}()
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		serveErr = multierr.Append(serveErr, fmt.Errorf("shutdown http server: %w", err))
	}

	logger.Info().Msg("API server stopped")
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
