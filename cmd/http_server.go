package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/access"
	"github.com/enlaces-epn/callcenter/internal/authprovider/local"
	"github.com/enlaces-epn/callcenter/internal/calls"
	"github.com/enlaces-epn/callcenter/internal/events"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/settings"
	"github.com/enlaces-epn/callcenter/internal/store"
	memorystore "github.com/enlaces-epn/callcenter/internal/store/memory"
	postgresstore "github.com/enlaces-epn/callcenter/internal/store/postgres"
	redisstore "github.com/enlaces-epn/callcenter/internal/store/redis"
	"github.com/enlaces-epn/callcenter/internal/transport/rest"
	"github.com/enlaces-epn/callcenter/internal/useradmin"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	Records  store.Store
	Provider *local.Provider
	Resolver *session.Resolver
	Access   *access.Service
	Router   *chi.Mux
	Logger   *slog.Logger
	cleanup  []func()
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr, "store_backend", deps.Config.Store.Backend)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		deps.shutdown()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			deps.shutdown()
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func (d *Dependencies) shutdown() {
	d.Access.Close()
	d.Resolver.Close()
	d.Provider.Close()
	for _, fn := range d.cleanup {
		fn()
	}
}

func setupRoutes(deps *Dependencies) {
	lg := deps.Logger

	bus := events.NewEventBus(lg)
	registerAuditSubscribers(bus, lg)

	userService := useradmin.NewService(deps.Provider, deps.Records, bus, lg)
	callService := calls.NewService(deps.Records, bus, lg)
	settingsService := settings.NewService(deps.Records, lg)

	accessHandler := access.NewHandler(deps.Provider, deps.Resolver)
	authz := access.NewAuthorization(lg)
	userHandler := useradmin.NewHandler(userService)
	callHandler := calls.NewHandler(callService)
	settingsHandler := settings.NewHandler(settingsService)

	rest.RegisterAllRoutes(
		deps.Router,
		deps.Records,
		accessHandler,
		authz,
		userHandler,
		callHandler,
		settingsHandler,
		deps.Config.Server.AllowedOriginList(),
		lg,
	)
}

// registerAuditSubscribers keeps a structured audit trail of every
// administrative and call mutation.
func registerAuditSubscribers(bus *events.EventBus, lg *slog.Logger) {
	audit := func(ctx context.Context, event events.Event) error {
		lg.InfoContext(ctx, "audit",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"occurred_at", event.OccurredAt(),
			"payload", event.Payload())
		return nil
	}
	for _, eventType := range []string{
		events.UserCreated,
		events.UserUpdated,
		events.UserDeleted,
		events.CallLogged,
		events.CallDeleted,
	} {
		bus.Subscribe(eventType, audit)
	}
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Environment, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	records, cleanup, err := initStore(config.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	provider := local.New(records, local.Config{
		TokenSecret:   config.Auth.TokenSecret,
		TokenTTL:      config.Auth.TokenTTL,
		BCryptCost:    config.Auth.BCryptCost,
		MaxAttempts:   config.Auth.MaxAttempts,
		AttemptWindow: config.Auth.AttemptWindow,
	}, lg)

	resolver := session.NewResolver(provider, records, lg)
	resolver.Start(context.Background())

	accessService := access.NewService(resolver, provider, lg)

	return &Dependencies{
		Config:   config,
		Records:  records,
		Provider: provider,
		Resolver: resolver,
		Access:   accessService,
		Router:   chi.NewRouter(),
		Logger:   lg,
		cleanup:  cleanup,
	}, nil
}

// initStore builds the record store for the configured backend.
func initStore(cfg internal.StoreConfig) (store.Store, []func(), error) {
	switch cfg.Backend {
	case "postgres":
		db, err := gorm.Open(gormpostgres.Open(cfg.Postgres.Source), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to access postgres pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		if err := sqlDB.Ping(); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		cleanup := []func(){func() {
			if err := sqlDB.Close(); err != nil {
				slog.Error("postgres close error", "error", err)
			}
		}}
		return postgresstore.New(db), cleanup, nil

	case "redis":
		client := redisclient.NewClient(&redisclient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := internal.WithTimeout(context.Background(), 0)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		cleanup := []func(){func() {
			if err := client.Close(); err != nil {
				slog.Error("redis close error", "error", err)
			}
		}}
		return redisstore.New(client, cfg.Redis.Namespace), cleanup, nil

	case "memory":
		return memorystore.New(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
