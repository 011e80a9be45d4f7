package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/tenantplane/internal/adapter/fsm"
	natsadapter "github.com/neomorfeo/tenantplane/internal/adapter/nats"
	"github.com/neomorfeo/tenantplane/internal/adapter/otel"
	"github.com/neomorfeo/tenantplane/internal/adapter/postgres"
	redisadapter "github.com/neomorfeo/tenantplane/internal/adapter/redis"
	riveradapter "github.com/neomorfeo/tenantplane/internal/adapter/river"
	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/adapter/typesense"
	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/config"
	"github.com/neomorfeo/tenantplane/internal/domain"

	handler "github.com/neomorfeo/tenantplane/internal/adapter/http"
)

const (
	serviceName    = "tenantplane"
	serviceVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tenantplane stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, cfg.Telemetry.OTel())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Registry ---
	db, err := otel.OpenRegistryDB(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("registry database: %w", err)
	}
	registry, err := sqlite.NewFromDB(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("registry: %w", err)
	}
	defer registry.Close()

	var repo domain.TenantRepository = otel.NewTracingRepository(registry)
	if cfg.Redis.Addr != "" {
		rdb, err := redisadapter.NewClient(ctx, redisadapter.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		repo = redisadapter.NewCachingRepository(repo, rdb, cfg.Redis.TTL)
	}

	// --- Events ---
	var relay domain.EventPublisher
	if cfg.NATS.URL != "" {
		bus, err := natsadapter.Connect(natsadapter.Config{URL: cfg.NATS.URL, Name: serviceName})
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer bus.Close()
		relay = otel.NewTracingPublisher(bus)
	}

	queue, err := riveradapter.Setup(ctx, db, riveradapter.Config{
		ProvisionWorkers: cfg.Tenants.ProvisionWorkers,
		Relay:            relay,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	events := riveradapter.NewPublisher(queue.Client)
	// Registry writes enqueue their events in the same transaction; the publisher only
	// sees events recorded outside a registry write.
	registry.UseOutbox(events)
	publisher := otel.NewTracingPublisher(events)

	// --- Tenant resources ---
	cluster, err := postgres.NewCluster(ctx, cfg.Tenants.DatabaseURL)
	if err != nil {
		return fmt.Errorf("tenant database server: %w", err)
	}
	defer cluster.Close()

	engine := typesense.NewEngine(typesense.Config{
		URL:     cfg.Search.URL,
		APIKey:  cfg.Search.APIKey,
		Timeout: cfg.Search.Timeout,
	})
	if err := engine.Health(ctx, cfg.Search.Timeout); err != nil {
		slog.Warn("search engine unavailable, indexing will fail until it recovers", "url", cfg.Search.URL, "error", err)
	}

	indexes := app.NewIndexManager(otel.NewTracingSearchEngine(engine), postgres.NewRecordSource(cluster))

	// --- Application ---
	provisioner, err := otel.NewInstrumentedProvisioner(app.NewProvisioner(
		repo, publisher, cluster, postgres.NewMigrator(cluster), postgres.NewSeeder(cluster), indexes,
	))
	if err != nil {
		return fmt.Errorf("provisioner metrics: %w", err)
	}
	queue.BindProvisioner(provisioner)

	svc := app.NewTenantService(app.Dependencies{
		Repo:      repo,
		Publisher: publisher,
		Validator: fsm.New(),
		Scheduler: riveradapter.NewScheduler(queue.Client),
		Databases: cluster,
		Indexes:   indexes,
	}, cfg.Tenants.BaseDomain)
	resolver := app.NewResolver(repo, cfg.Tenants.BaseDomain, cfg.Tenants.CentralDomains)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           newRouter(svc, resolver),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// River keeps running until Stop so in-flight provisioning can finish.
	if err := queue.Client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("tenantplane listening", "addr", srv.Addr, "base_domain", cfg.Tenants.BaseDomain)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			queue.Client.Stop(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("stopped")
	return nil
}

// newRouter builds the HTTP surface: admin routes on central hosts, tenant routes on
// tenant hosts.
func newRouter(svc *app.TenantService, resolver *app.Resolver) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	router.Use(handler.ResolveTenant(resolver))

	api := humachi.New(router, huma.DefaultConfig(serviceName, serviceVersion))
	handler.Register(api, svc)
	handler.RegisterTenantRoutes(api)

	return router
}

func setupLogger(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
