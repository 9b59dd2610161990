// Package main is the Nezuko platform's single process: one Bot
// Supervisor (C9) reconciling every owner's bot.Instance rows against a
// running telegram.Worker pool, plus the shared HTTP listener serving
// health probes and webhook intake for bots in "webhook" update mode.
//
// Architecture follows Clean Architecture / DDD, same as the platform
// this was built from:
//   - domain: pure business rules, no external dependencies
//   - application: use-case orchestration (verification, enforcement,
//     command worker, status writer)
//   - infrastructure: repositories, cache, external Telegram client
//   - interface: Telegram worker runtime, HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nezuko-platform/nezuko-core/config"
	"github.com/nezuko-platform/nezuko-core/internal/application/statuswriter"
	"github.com/nezuko-platform/nezuko-core/internal/domain/bot"
	"github.com/nezuko-platform/nezuko-core/internal/infrastructure/logsink"
	"github.com/nezuko-platform/nezuko-core/internal/infrastructure/persistence/postgres"
	"github.com/nezuko-platform/nezuko-core/internal/infrastructure/persistence/redis"
	httpserver "github.com/nezuko-platform/nezuko-core/internal/interface/http"
	"github.com/nezuko-platform/nezuko-core/internal/interface/http/handlers"
	"github.com/nezuko-platform/nezuko-core/internal/interface/telegram"
	"github.com/nezuko-platform/nezuko-core/internal/supervisor"
	"github.com/nezuko-platform/nezuko-core/pkg/security"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	// ─────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting nezuko-core",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"update_mode", cfg.Telegram.UpdateMode,
	)

	// ─────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()
	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────
	// 4. CACHE (C2) - degrades to a null cache when disabled or
	//    unreachable, per spec §4.2's graceful-degradation requirement
	// ─────────────────────────────────────────────────────────────────
	var membershipCache telegram.MembershipCache = redis.NullMembershipCache{}
	var cacheBackend *redis.Cache
	var statusPublisher statuswriter.Publisher
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}
		cache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, membership cache disabled", "error", err)
		} else {
			defer cache.Close()
			cacheBackend = cache
			membershipCache = redis.NewMembershipCache(cache)
			statusPublisher = redis.NewStatusPublisher(cache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	botRepo := postgres.NewBotRepository(dbConn)
	groupRepo := postgres.NewGroupRepository(dbConn)
	ownerRepo := postgres.NewOwnerRepository(dbConn)
	commandRepo := postgres.NewCommandRepository(dbConn)
	statusRepo := postgres.NewStatusRepository(dbConn)
	logRepo := postgres.NewLogRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────
	// 6. VERIFICATION LOGGER (C10) - buffered sink shared by every
	//    bot worker's verification/command/API-call write paths
	// ─────────────────────────────────────────────────────────────────
	verifyLogger := logsink.New(logRepo, log)
	defer func() {
		log.Info("flushing verification logger...")
		if err := verifyLogger.Close(); err != nil {
			log.Error("failed to flush verification logger", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────
	// 7. TOKEN CIPHER
	// ─────────────────────────────────────────────────────────────────
	cipher, err := security.NewTokenCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to construct token cipher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER (health probes + webhook intake)
	// ─────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	webhookRegistry := handlers.NewWebhookRegistry()

	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	if cacheBackend != nil {
		healthChecker.AddCheck("cache", handlers.NewCacheCheck(cacheBackend))
	}

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host, httpConfig.Port = splitListenAddr(cfg.Telegram.WebhookListenAddr, httpConfig.Host, httpConfig.Port)

	httpDeps := httpserver.Dependencies{
		Webhooks:      webhookRegistry,
		HealthChecker: healthChecker,
		Logger:        log,
	}
	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────
	// 9. BOT SUPERVISOR (C9)
	// ─────────────────────────────────────────────────────────────────
	log.Info("initializing bot supervisor...")

	workerCfg := telegram.WorkerConfig{
		UpdateMode:               cfg.Telegram.UpdateMode,
		PollingTimeout:           cfg.Telegram.PollingTimeout,
		CommandPollInterval:      cfg.Scheduler.CommandPollInterval,
		HeartbeatInterval:        cfg.Scheduler.HeartbeatInterval,
		ShutdownGrace:            cfg.Scheduler.ShutdownGrace,
		StaleProcessingThreshold: cfg.Scheduler.StaleProcessingThreshold,
	}

	factory := func(instance *bot.Instance, token string) (supervisor.Runner, error) {
		deps := telegram.WorkerDeps{
			Groups:          groupRepo,
			Owners:          ownerRepo,
			Commands:        commandRepo,
			Status:          statusRepo,
			Cache:           membershipCache,
			APISink:         verifyLogger,
			VerifyLog:       verifyLogger,
			StatusPublisher: statusPublisher,
		}
		worker, err := telegram.NewWorker(instance.ID, token, workerCfg, deps, log)
		if err != nil {
			return nil, err
		}
		if workerCfg.UpdateMode == "webhook" {
			webhookRegistry.Register(instance.ID, worker)
		}
		return supervisedWorker{worker: worker, botInstanceID: instance.ID, registry: webhookRegistry}, nil
	}

	supervisorCfg := supervisor.DefaultConfig()
	supervisorCfg.SyncInterval = cfg.Scheduler.SupervisorSyncInterval
	botSupervisor := supervisor.New(botRepo, cipher, factory, supervisorCfg, log)
	if cacheBackend != nil {
		botSupervisor.SetLocker(redis.NewDistributedLock(cacheBackend))
	}

	// ─────────────────────────────────────────────────────────────────
	// 10. RUN SERVICES
	// ─────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	errCh := make(chan error, 2)

	go func() {
		log.Info("starting HTTP server", "address", httpServer.Address())
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		log.Info("starting bot supervisor")
		if err := botSupervisor.Run(ctx); err != nil {
			errCh <- fmt.Errorf("bot supervisor error: %w", err)
		}
	}()

	log.Info("nezuko-core is running", "http_address", httpServer.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
		// Cancelling the root context stops the supervisor's Run loop
		// (it stops every managed worker and drains them) before we
		// also shut down the HTTP listener below.
		cancel()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		select {
		case <-supervisorDone:
		case <-drainCtx.Done():
			log.Warn("bot supervisor did not stop within shutdown timeout")
		}
		drainCancel()
	case err := <-errCh:
		log.Error("service error", "error", err)
		cancel()
		return err
	}

	// ─────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}

// supervisedWorker adapts *telegram.Worker into a supervisor.Runner that
// also deregisters itself from the webhook registry once its Run loop
// returns, so a stopped or crashed bot instance stops receiving
// webhook-delivered updates immediately rather than on the next sync.
type supervisedWorker struct {
	worker        *telegram.Worker
	botInstanceID int64
	registry      *handlers.WebhookRegistry
}

func (s supervisedWorker) Run(ctx context.Context) error {
	defer s.registry.Unregister(s.botInstanceID)
	return s.worker.Run(ctx)
}

func (s supervisedWorker) ReportCrash(ctx context.Context, cause error) {
	s.worker.ReportCrash(ctx, cause)
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// splitListenAddr parses "host:port" (as stored in
// TELEGRAM_WEBHOOK_LISTEN_ADDR) into host/port, falling back to the
// provided defaults on a malformed value.
func splitListenAddr(addr, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return defaultHost, defaultPort
	}
	if host == "" {
		host = defaultHost
	}
	return host, port
}
