// Package runtime assembles the funding service from configuration: storage,
// application services, HTTP transport and lifecycle management.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/coopledger/funding_layer/internal/app"
	"github.com/coopledger/funding_layer/internal/app/httpapi"
	"github.com/coopledger/funding_layer/internal/app/metrics"
	"github.com/coopledger/funding_layer/internal/app/storage/postgres"
	"github.com/coopledger/funding_layer/internal/middleware"
	"github.com/coopledger/funding_layer/pkg/logger"
)

// Application is the composed runtime: one funding engine behind one HTTP
// server.
type Application struct {
	cfg    Config
	log    *logger.Logger
	app    *app.Application
	db     *sqlx.DB
	server *http.Server
}

// New builds the runtime from configuration. Database and cache connections
// are established here so a misconfigured deployment fails at startup.
func New(cfg Config) (*Application, error) {
	log := logger.New(cfg.LoggerConfig())

	stores := app.Stores{}
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns, cfg.Database.ConnLifetime)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		store := postgres.New(db)
		stores = app.Stores{
			Registry:      store,
			Ledger:        store,
			Organizations: store,
			Projects:      store,
			Offers:        store,
		}
		log.WithField("component", "runtime").Info("using postgres storage")
	} else {
		log.WithField("component", "runtime").Info("using in-memory storage")
	}

	application, err := app.New(stores, app.Config{
		PlatformOwner:      cfg.Funding.PlatformOwner,
		OwnershipClaimable: cfg.Funding.OwnershipClaimable,
		BatchSize:          cfg.Funding.BatchSize,
		PayoutSchedule:     cfg.Funding.PayoutSchedule,
		RedisAddr:          cfg.Redis.Addr,
		RedisPassword:      cfg.Redis.Password,
		BalanceTTL:         cfg.Redis.BalanceTTL,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		AuditFile: cfg.Audit.File,
		AuditSize: cfg.Audit.Size,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build handler: %w", err)
	}

	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.Secret), log, []string{"/healthz", "/metrics"})
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(time.Minute)
	cors := middleware.NewCORSMiddleware(nil)

	chain := metrics.InstrumentHandler(cors.Handler(auth.Handler(limiter.Handler(handler))))

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		db:  db,
		server: &http.Server{
			Addr:         cfg.ListenAddr(),
			Handler:      chain,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		return a.Shutdown()
	case err := <-errCh:
		_ = a.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown stops the HTTP server, background services and storage in order.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutdown http server: %w", err)
	}
	if err := a.app.Stop(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop services: %w", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
	}
	return firstErr
}
