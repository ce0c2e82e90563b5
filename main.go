package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/audit"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/cache"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/handlers"
	"github.com/Shamoka80/r2ready-sub010/pkg/logging"
	"github.com/Shamoka80/r2ready-sub010/pkg/mcp"
	mcpauth "github.com/Shamoka80/r2ready-sub010/pkg/mcp/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/mcp/tools"
	"github.com/Shamoka80/r2ready-sub010/pkg/metrics"
	"github.com/Shamoka80/r2ready-sub010/pkg/middleware"
	"github.com/Shamoka80/r2ready-sub010/pkg/notify"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories/memory"
	"github.com/Shamoka80/r2ready-sub010/pkg/retry"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// storage is the repository backend with its scope opener and health check.
type storage struct {
	repos  repositories.Set
	opener database.ScopeOpener
	outbox repositories.OutboxRepository
	pinger handlers.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &storage{
			repos:  store.Set(),
			opener: database.DetachedOpener{},
			outbox: store.Outbox(),
			close:  func() {},
		}, nil
	}

	logger.Info("Connecting to database",
		zap.String("dsn", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.Open(ctx, database.PoolConfigFrom(&cfg.Database))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}

	if err := database.MigrateUp(cfg.Database.MigrationConnectionString(), cfg.Database.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, err
	}

	repos := repositories.NewPostgresSet()
	return &storage{
		repos:  repos,
		opener: db,
		outbox: repos.Outbox,
		pinger: db,
		close:  db.Close,
	}, nil
}

func openCache(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (cache.ScoreCache, *redis.Client, error) {
	if !cfg.Enabled() {
		logger.Info("Redis not configured; using in-process score cache")
		return cache.NewMemoryScoreCache(), nil, nil
	}
	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*redis.Client, error) {
		return database.OpenRedis(ctx, cfg)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %s", logging.SanitizeError(err))
	}
	logger.Info("Score cache on redis", zap.String("addr", cfg.Addr()))
	return cache.NewRedisScoreCache(client, cfg.KeyPrefix, cfg.TTL()), client, nil
}

func openPublisher(cfg *config.KafkaConfig, logger *zap.Logger) (notify.Publisher, handlers.Pinger, error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("Kafka not configured; workflow events are written to the log")
		return notify.NewLogPublisher(logger), nil, nil
	}
	p, err := notify.NewKafkaPublisher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Publishing workflow events to kafka",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return p, p, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("storage", cfg.Storage),
		zap.Bool("auth_skip_verification", cfg.Auth.SkipVerification),
		zap.String("catalog", cfg.Catalog.Path))

	registry, err := catalog.NewRegistry(ctx, catalog.FileLoader{
		Path:    cfg.Catalog.Path,
		Format:  cfg.Catalog.Format,
		Version: cfg.Catalog.Version,
	}, logger)
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	scoreCache, redisClient, err := openCache(ctx, &cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, publisherPinger, err := openPublisher(&cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	deps := &services.Deps{
		Repos:       store.repos,
		Catalog:     registry,
		Cache:       scoreCache,
		Scoring:     cfg.Scoring,
		Workflow:    cfg.Workflow,
		Remediation: cfg.Remediation,
		Auditor:     audit.NewSecurityAuditor(logger),
		Metrics:     m,
		Logger:      logger,
	}

	facilities := services.NewFacilityService(deps)
	assessments := services.NewAssessmentService(deps)
	answers := services.NewAnswerService(deps)
	scoring := services.NewScoringService(deps)
	workflow := services.NewWorkflowService(deps)
	actions := services.NewCorrectiveActionService(deps)
	resolver := services.NewResolverService(deps)

	scopes := database.NewTenantScopeProvider(store.opener)
	relay := services.NewEventRelay(store.outbox, scopes, publisher, nil, cfg.Outbox.BatchSize, m, logger)
	go relay.Run(ctx, cfg.Outbox.Interval())

	go reloadCatalogOnHangup(ctx, registry, logger)

	jwks, err := auth.NewJWKSClient(&auth.JWKSConfig{
		SkipVerification: cfg.Auth.SkipVerification,
		JWKSEndpoints:    cfg.Auth.JWKSEndpoints,
		HMACSecret:       []byte(cfg.Auth.HMACSecret),
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	defer jwks.Close()
	authService := auth.NewAuthService(jwks, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(store.opener, logger))

	pingers := map[string]handlers.Pinger{
		"database": store.pinger,
		"kafka":    publisherPinger,
	}
	if redisClient != nil {
		pingers["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, registry, pingers, logger).RegisterRoutes(mux)
	handlers.NewCatalogHandler(registry, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewFacilityHandler(facilities, assessments, resolver, registry, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewAssessmentHandler(assessments, answers, scoring, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewWorkflowHandler(workflow, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewActionHandler(actions, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	mux.Handle("GET /metrics", promhttp.Handler())

	if cfg.MCP.Enabled {
		auditLogger := mcp.NewAuditLogger(logger, m)
		mcpServer := mcp.NewServer("r2ready", cfg.Version, auditLogger.Hooks(), logger)
		tools.RegisterHealthTool(mcpServer, cfg.Version, registry)
		tools.RegisterComplianceTools(mcpServer, &tools.ComplianceToolDeps{
			BaseMCPToolDeps: tools.BaseMCPToolDeps{Scopes: scopes, Logger: logger},
			Resolver:        resolver,
			Scoring:         scoring,
			Actions:         actions,
			Workflow:        workflow,
		})
		handlers.NewMCPHandler(mcpServer, logger, cfg.MCP).
			RegisterRoutes(mux, mcpauth.NewMiddleware(authService, auditLogger, logger))
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.ClientIP(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting r2ready engine", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// reloadCatalogOnHangup swaps in a freshly loaded catalog on SIGHUP. A failed
// load keeps the current catalog.
func reloadCatalogOnHangup(ctx context.Context, registry *catalog.Registry, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := registry.Reload(ctx); err != nil {
				logger.Warn("Catalog reload failed; keeping current catalog", zap.Error(err))
			}
		}
	}
}
