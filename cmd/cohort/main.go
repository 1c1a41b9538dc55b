package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cohort/pkg/api"
	"github.com/platinummonkey/cohort/pkg/audit"
	"github.com/platinummonkey/cohort/pkg/config"
	"github.com/platinummonkey/cohort/pkg/middleware"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/provisioner"
	"github.com/platinummonkey/cohort/pkg/realtime"
	"github.com/platinummonkey/cohort/pkg/resolver"
	"github.com/platinummonkey/cohort/pkg/storage"
	"github.com/platinummonkey/cohort/pkg/verifier"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout).
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("cohort exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	db, err := storage.Open(ctx, storage.ConnectionConfig{
		Driver:      cfg.Database.Driver,
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate: cfg.Database.AutoMigrate,
	})
	if err != nil {
		return err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = storage.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected, realtime relay enabled")
	}

	v, err := verifier.New(cfg.Provider, verifier.WithLogger(logger), verifier.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	logger.WithField("mode", string(cfg.Provider.Mode)).Info("Identity verifier ready")

	prov := provisioner.New(db, provisioner.Config{
		MaxUsernameLength: cfg.Provisioning.MaxUsernameLength,
		MaxUsernameSuffix: cfg.Provisioning.MaxUsernameSuffix,
	}, logger, metrics)

	provider := resolver.NewProviderResolver(v, prov, prov.Mappings(), resolver.Options{Logger: logger, Metrics: metrics})
	local := resolver.NewLocalTokenStrategy(cfg.LocalToken.Secret, cfg.LocalToken.Leeway, prov.Accounts(), logger, metrics)

	// The local strategy only claims tokens it signed with a user_id, so it
	// runs first and local sessions never wait on the provider. Websocket
	// tokens it does not claim must verify as provider tokens.
	gate := middleware.NewGate(resolver.NewChain(local, provider), cfg.Gate.BypassPrefixes, logger)
	authorizer := realtime.NewAuthorizer(resolver.NewChain(local, provider.Strict()), logger, metrics)

	hub := realtime.NewHub(logger, metrics)
	var publisher realtime.Publisher = hub
	var relay *realtime.RedisRelay
	if rdb != nil {
		relay = realtime.NewRedisRelay(rdb, cfg.Redis.Channel, hub, logger)
		publisher = relay
	}

	ws := realtime.NewHandler(authorizer, hub, realtime.HandlerConfig{
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		MessageAuth:    cfg.Realtime.MessageAuth,
		AuthTimeout:    cfg.Realtime.AuthTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}, logger)

	auditLog, err := newAuditLogger(cfg.Audit, db)
	if err != nil {
		db.Close()
		return err
	}

	server := api.NewServer(api.Dependencies{
		Gate:      gate,
		Mappings:  prov.Mappings(),
		Publisher: publisher,
		Realtime:  ws,
		Audit:     auditLog,
		Metrics:   metrics,
		Logger:    logger,
	}, cfg.Server.CORSOrigins)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter(db, rdb, v, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		ws.Close()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditLog.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if rdb != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return rdb.Close()
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Starting cohort API server")
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return listen(healthServer)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	if metrics != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					metrics.RecordDBStats(db.Stats())
				}
			}
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", s.Addr, err)
	}
	return nil
}

func healthRouter(db *sql.DB, rdb *redis.Client, v verifier.Verifier, registry *prometheus.Registry) http.Handler {
	router := mux.NewRouter()
	checker := observability.NewHealthChecker(db, rdb, version)
	if p, ok := v.(verifier.Pinger); ok {
		checker.AddCheck("identity_provider", p.Ping, false)
	}
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry))
	}
	return router
}

// newAuditLogger writes audit events to the database and, when configured,
// a JSON lines file
func newAuditLogger(cfg config.AuditConfig, db *sql.DB) (audit.Logger, error) {
	if !cfg.Enabled {
		return audit.NopLogger(), nil
	}

	dbLog, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return dbLog, nil
	}

	fileLog, err := audit.NewFileLogger(cfg.File)
	if err != nil {
		return nil, err
	}
	return audit.NewMultiLogger(dbLog, fileLog), nil
}
