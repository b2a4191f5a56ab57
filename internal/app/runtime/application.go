// Package runtime wires configuration, storage, the application container
// and the HTTP server into one runnable unit.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/starkillerOG/HA-motion-blinds/internal/app"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/httpapi"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage/postgres"
	"github.com/starkillerOG/HA-motion-blinds/internal/config"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Application holds the running bridge.
type Application struct {
	cfg        config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sqlx.DB
}

// NewApplication builds the bridge from a loaded configuration.
func NewApplication(cfg config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(stores, app.Options{
		RedisURL:               cfg.Motion.RedisURL,
		MaintenanceRefreshSpec: cfg.Motion.RefreshSchedule,
		MaintenanceSweepSpec:   cfg.Motion.SweepSchedule,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	var auth *httpapi.Auth
	if len(cfg.Auth.APIKeyHashes) > 0 || cfg.Auth.JWTSecret != "" {
		auth = httpapi.NewAuth(cfg.Auth.APIKeyHashes, cfg.Auth.JWTSecret, log)
	} else {
		log.Warn("no api key hashes or jwt secret configured; API is unauthenticated")
	}

	handler := httpapi.NewHandler(application, auth, cfg.Server.AuditFile, log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: srv,
		db:         db,
	}, nil
}

// App exposes the service container.
func (a *Application) App() *app.Application { return a.app }

// Run starts the services and the HTTP server and blocks until the context
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the services and the database connection.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

// buildStores opens Postgres when a DSN is configured and falls back to the
// in-memory store otherwise. Migrations run on every open.
func buildStores(cfg config.DatabaseConfig) (app.Stores, *sqlx.DB, error) {
	if cfg.DSN == "" {
		return app.Stores{}, nil, nil
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}

	if err := postgres.Migrate(db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{Entries: store, Devices: store}, db, nil
}
