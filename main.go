// api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"printshop/analytics/analytics"
	"printshop/analytics/classifier"
	"printshop/analytics/config"
	"printshop/analytics/database"
	"printshop/analytics/handlers"
	"printshop/analytics/logging"
	"printshop/analytics/store"
	"printshop/analytics/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var skipMigrations bool

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics HTTP API and the idle session sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), !skipMigrations)
		},
	}
	serve.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply PostgreSQL migrations at startup")

	root := &cobra.Command{
		Use:          "printshop-analytics",
		Short:        "First-party visitor analytics for the print-on-demand storefront",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newMigrateCmd(), newSweepCmd(), newCreateOperatorCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			dbClient, err := database.NewPostgresDB(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer dbClient.Close()

			return dbClient.Migrate()
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "End sessions idle for longer than SESSION_IDLE_TIMEOUT once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			deps, err := openBackend(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer deps.close()

			n, err := analytics.NewSweeper(deps.backend.Sessions, cfg.SessionIdleTimeout, logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ended %d idle sessions\n", n)
			return nil
		},
	}
}

func newCreateOperatorCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-operator",
		Short: "Register a dashboard operator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || len(password) < 8 {
				return errors.New("--email and a --password of at least 8 characters are required")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			dbClient, err := database.NewPostgresDB(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer dbClient.Close()

			hashed, err := handlers.HashPassword(password)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			op, err := store.NewOperatorStore(dbClient.DB).CreateOperator(cmd.Context(), email, hashed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operator %d created for %s\n", op.ID, op.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "operator email")
	cmd.Flags().StringVar(&password, "password", "", "operator password")
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// backendDeps holds the open connections behind the selected storage driver.
type backendDeps struct {
	backend  *store.Backend
	postgres *database.DBClient
	closers  []func()
}

func (d *backendDeps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*backendDeps, error) {
	deps := &backendDeps{}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		dbClient, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL database: %w", err)
		}
		deps.closers = append(deps.closers, dbClient.Close)
		if migrate {
			if err := dbClient.Migrate(); err != nil {
				deps.close()
				return nil, err
			}
		}
		deps.postgres = dbClient
		deps.backend = &store.Backend{
			Sessions:  store.NewPostgresSessionStore(dbClient.DB),
			PageViews: store.NewPostgresPageViewStore(dbClient.DB),
			Close:     func(context.Context) error { return nil },
		}

	case config.StoreMongo:
		client, err := database.NewMongoClient(ctx, cfg.Mongo.URI, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		backend, err := store.NewMongoBackend(ctx, client, cfg.Mongo.Database)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		deps.backend = backend
		deps.closers = append(deps.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := backend.Close(ctx); err != nil {
				logger.Error("error closing MongoDB client", zap.Error(err))
			}
		})

	case config.StoreMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		deps.backend = store.NewMemoryStore().Backend()
	}

	return deps, nil
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}

	// --- Initialize the session / page view backend ---
	deps, err := openBackend(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer deps.close()

	// --- Initialize ClickHouse (custom events), optional ---
	var events store.EventSink = store.LogEventSink{Logger: logger}
	if cfg.ClickHouse.Enabled() {
		chClient, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse database: %w", err)
		}
		defer chClient.Close()
		events = store.NewClickHouseEventStore(chClient, logger)
	} else {
		logger.Info("CLICKHOUSE_HOST not set; custom events are logged and dropped")
	}

	// --- Initialize the geo cache, optional ---
	var geoCache classifier.GeoCache = classifier.NopGeoCache{}
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("geo cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			geoCache = classifier.NewRedisGeoCache(redisClient)
		}
	}
	geo := classifier.NewGeoResolver(classifier.GeoOptions{
		URLTemplate:   cfg.Geo.APIURL,
		CacheTTL:      cfg.Geo.CacheTTL,
		RatePerMinute: cfg.Geo.RatePerMinute,
		Timeout:       cfg.Geo.Timeout,
	}, geoCache, logger)

	// --- Initialize services and handlers ---
	service := analytics.NewService(deps.backend, events, geo, logger)
	engine := analytics.NewEngine(deps.backend, events)
	tokens := utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var authHandlers *handlers.AuthHandlers
	if deps.postgres != nil {
		authHandlers = handlers.NewAuthHandlers(store.NewOperatorStore(deps.postgres.DB), tokens, logger)
	} else {
		logger.Info("operator accounts need PostgreSQL; dashboard endpoints accept X-API-KEY only")
	}

	router, err := handlers.NewRouter(handlers.RouterDeps{
		Analytics:      handlers.NewAnalyticsHandlers(service, engine, logger),
		Auth:           authHandlers,
		Tokens:         tokens,
		APIKey:         cfg.Auth.DefaultKey,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		Logger:         logger,
		Health: func() error {
			if deps.postgres == nil {
				return nil
			}
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.postgres.DB.PingContext(pingCtx)
		},
	})
	if err != nil {
		return err
	}

	sweeper := analytics.NewSweeper(deps.backend.Sessions, cfg.SessionIdleTimeout, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("analytics API listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}
