// Package internal provides the application initialization and runtime logic
// for the two entry points: one-shot maintenance runs and the interactive
// serve mode.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/curator/internal/analyzer"
	"github.com/starford/curator/internal/engine"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/index"
	"github.com/starford/curator/internal/mcpserver"
	"github.com/starford/curator/internal/schema"
	"github.com/starford/curator/internal/storage"
)

// RunMaintenance executes one maintenance phase over the workspace and
// returns once the watermark is persisted. An analyzer failure is returned
// to the caller (the CLI exits non-zero) after progress is saved.
func RunMaintenance(ctx context.Context, phase string, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg)

	ph, err := analyzer.ParsePhase(phase)
	if err != nil {
		return err
	}

	files, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}

	az := app.analyzer
	if az == nil {
		az = selectAnalyzer(cfg)
	}

	eng := engine.New(cfg.Workspace.Path, files, az, logger, engine.Options{
		MinConfidence: cfg.Engine.MinConfidence,
		BatchSize:     cfg.Engine.BatchSize,
		Workers:       cfg.Engine.Workers,
	})

	res, err := eng.Run(ctx, ph)
	if res != nil {
		logger.Info("maintenance run finished",
			slog.String("phase", string(res.Phase)),
			slog.Int("changed", res.Changed),
			slog.Int("unchanged", res.Unchanged),
			slog.Int("deleted", res.Deleted),
			slog.Int("decisions_created", len(res.DecisionsCreated)),
			slog.Int("skipped_pending", res.SkippedPending),
			slog.Int("skipped_low_confidence", res.SkippedLowConf))
	}
	return err
}

// RunServe starts the interactive surface: the SQLite search index with its
// filesystem watcher, and the MCP server on stdio. It returns when stdin
// closes, a shutdown signal arrives, or ctx is cancelled.
func RunServe(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg)

	files, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}
	def, err := schema.Load(cfg.Workspace.Path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	store := entity.NewStore(files, def)

	indexPath := cfg.Index.Resolve(cfg.Workspace.Path)
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	db, err := index.Open(indexPath)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial index sync failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(store, def, db)

	logger.Info("serving",
		slog.String("workspace", cfg.Workspace.Path),
		slog.String("index", indexPath))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return index.Watch(gCtx, db, store, cfg.Workspace.Path, logger)
	})

	g.Go(func() error {
		return srv.Listen(gCtx, os.Stdin, os.Stdout)
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			return context.Canceled
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("serve error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("stopped")
	return nil
}

// newLogger builds the structured JSON logger shared by both entry points.
// Serve mode must keep stdout clean for the MCP transport, so logs go to
// stderr.
func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// selectAnalyzer picks the configured analyzer capability.
func selectAnalyzer(cfg *Config) analyzer.Analyzer {
	if len(cfg.Engine.Analyzer.Command) > 0 {
		return &analyzer.Exec{
			Command: cfg.Engine.Analyzer.Command,
			Timeout: cfg.Engine.Analyzer.Timeout(),
		}
	}
	return analyzer.Rules{}
}
