// Package server initializes and runs the backup server: credential
// bootstrap, storage layout, file index, HTTP API and the mDNS
// announcement, with graceful shutdown on signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/server/announce"
	"github.com/dmitrijs2005/photosync/internal/server/config"
	"github.com/dmitrijs2005/photosync/internal/server/db"
	"github.com/dmitrijs2005/photosync/internal/server/httpapi"
	"github.com/dmitrijs2005/photosync/internal/server/identity"
	"github.com/dmitrijs2005/photosync/internal/server/storage"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	handler   *httpapi.Handler
	announcer *announce.Announcer
	apiKey    string
	closeDB   func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	creds, err := identity.LoadOrCreate(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("identity init error: %w", err)
	}

	st, err := storage.New(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	sqlDB, index, err := db.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	handler := httpapi.NewHandler(index, st, creds.ServerID, cfg.ServerName, logger)

	var announcer *announce.Announcer
	if cfg.Announce {
		announcer = announce.New(creds.ServerID, cfg.ServerName, cfg.Port, logger)
	}

	return &App{
		config:    cfg,
		logger:    logger,
		handler:   handler,
		announcer: announcer,
		apiKey:    creds.APIKey,
		closeDB:   sqlDB.Close,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves the HTTP API until the context is cancelled, then shuts down
// gracefully.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting backup server",
		"port", app.config.Port, "storage", app.config.StorageRoot)

	app.initSignalHandler(cancelFunc)

	if app.announcer != nil {
		if err := app.announcer.Start(ctx); err != nil {
			// agents can still connect via a manual address
			app.logger.Warn(ctx, "mDNS announcement failed", "error", err)
		}
		defer app.announcer.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Port),
		Handler: app.handler.Router(app.apiKey),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			app.logger.Error(ctx, "http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}

	if err := app.closeDB(); err != nil {
		app.logger.Error(ctx, "failed to close database", "error", err)
	}
	app.logger.Info(ctx, "server stopped")
}
