// Package agent wires the sync agent together: local database, media
// scanner, connectivity gate, discovery and the scheduler, plus the
// periodic trigger loop and the interactive pairing flow.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/photosync/internal/agent/config"
	"github.com/dmitrijs2005/photosync/internal/agent/connectivity"
	"github.com/dmitrijs2005/photosync/internal/agent/db"
	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/agent/metadata"
	"github.com/dmitrijs2005/photosync/internal/agent/scheduler"
	"github.com/dmitrijs2005/photosync/internal/agent/transfer"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
)

type App struct {
	cfg        *config.Config
	logger     logging.Logger
	repos      *db.Repositories
	discoverer *discovery.Client
	sched      *scheduler.Scheduler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	repos, err := db.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	// Flags and environment override the stored pairing record.
	if cfg.APIKey == "" {
		if v, err := repos.Metadata.Get(ctx, metadata.KeyAPIKey); err == nil && v != nil {
			cfg.APIKey = string(v)
		}
	}
	if cfg.ServerID == "" {
		if v, err := repos.Metadata.Get(ctx, metadata.KeyServerID); err == nil && v != nil {
			cfg.ServerID = string(v)
		}
	}

	discoverer := discovery.NewClient(discovery.NewMDNSBrowser(), cfg.DiscoveryTimeout, logger)

	sched := scheduler.New(
		cfg,
		repos.Ledger,
		repos.Progress,
		media.NewFSScanner(cfg.SourceRoots()),
		connectivity.NewExecDetector(),
		discoverer,
		func(info *discovery.ServerInfo, apiKey string) scheduler.Uploader {
			return transfer.NewClient(info, apiKey, cfg.DeviceName, cfg.HTTPTimeout, logger)
		},
		logger,
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		repos:      repos,
		discoverer: discoverer,
		sched:      sched,
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

// Run starts the trigger loop: one sync attempt immediately, then one per
// SyncInterval. A retryable outcome is re-attempted with fibonacci backoff
// before the loop goes back to sleep. Blocks until the context is cancelled.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync agent",
		"device", app.cfg.DeviceName, "interval", app.cfg.SyncInterval.String())

	app.initSignalHandler(cancelFunc)

	app.runOnce(ctx, "startup")

	ticker := time.NewTicker(app.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.logger.Info(ctx, "shutting down")
			app.close()
			return
		case <-ticker.C:
			app.runOnce(ctx, "interval")
		}
	}
}

// runOnce performs one attempt and, when the outcome is retryable, keeps
// retrying with backoff until it either succeeds, fails permanently or the
// retry budget runs out. The next ticker tick starts fresh either way.
func (app *App) runOnce(ctx context.Context, reason string) {
	backoff := retry.WithMaxRetries(5,
		retry.WithCappedDuration(5*time.Minute,
			retry.NewFibonacci(15*time.Second)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		outcome := app.sched.Run(ctx, reason)
		if outcome.Retryable {
			return retry.RetryableError(errors.New(outcome.Reason))
		}
		if outcome.State == scheduler.StateFailed {
			return errors.New(outcome.Reason)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		app.logger.Warn(ctx, "sync attempt gave up", "reason", err.Error())
	}
}

func (app *App) close() {
	if err := app.repos.DB.Close(); err != nil {
		app.logger.Error(context.Background(), "failed to close database", "error", err)
	}
}
