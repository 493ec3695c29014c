// Package internal provides the application initialization and runtime
// logic behind the convert, serve, and mcp commands.
package internal

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

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/watch"
)

// runtime bundles the initialized components shared by all commands.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	conv   *convert.Converter
	db     *state.DB
	vault  *storage.FS
}

func (rt *runtime) close() {
	_ = rt.db.Close()
}

// bootstrap applies options, initializes logging, storage, state, and
// the converter. cb, if non-nil, receives per-document events.
func bootstrap(opts []Option, cb convert.EventCallback) (*runtime, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("content_path", cfg.Site.ContentPath),
		slog.String("static_path", cfg.Site.StaticPath),
		slog.String("state_path", cfg.State.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault storage: %w", err)
	}
	content, err := storage.NewFS(cfg.Site.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("init content storage: %w", err)
	}
	static, err := storage.NewFS(cfg.Site.StaticPath)
	if err != nil {
		return nil, fmt.Errorf("init static storage: %w", err)
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("init state db: %w", err)
	}

	conv := convert.New(convert.Options{
		Wikilinks:            cfg.Convert.Wikilinks,
		Tags:                 cfg.Convert.Tags,
		Attachments:          cfg.Convert.Attachments,
		TOC:                  cfg.Convert.TOC,
		TocMaxDepth:          cfg.Convert.TocMaxDepth,
		PreserveFrontMatter:  cfg.Convert.PreserveFrontMatter,
		AttachmentExtensions: cfg.Convert.AttachmentExtensions,
		FlattenAttachments:   cfg.Convert.FlattenAttachments,
		Workers:              cfg.Convert.Workers,
	}, vault, content, static, db, logger, cb)

	return &runtime{cfg: cfg, logger: logger, conv: conv, db: db, vault: vault}, nil
}

// RunOnce performs a single full conversion pass and exits.
func RunOnce(ctx context.Context, opts ...Option) error {
	rt, err := bootstrap(opts, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	stats, err := rt.conv.Run(ctx)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("conversion finished with %d failed documents", stats.Failed)
	}
	return nil
}

// Serve runs watch mode: an initial full pass, then the file watcher
// and the status API until a shutdown signal arrives.
func Serve(ctx context.Context, opts ...Option) error {
	broker := sse.NewBroker()
	defer broker.Close()

	rt, err := bootstrap(opts, broker.PublishDocEvent)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	stats, err := rt.conv.Run(ctx)
	if err != nil {
		return fmt.Errorf("initial conversion failed: %w", err)
	}
	broker.PublishBatchCompleted(stats)

	router := api.NewRouter(rt.conv, rt.db, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)
	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		applier := batchNotifier{conv: rt.conv, broker: broker}
		return watch.Watch(gCtx, applier, cfg.Vault.Path, watch.Options{
			Debounce:   cfg.Watch.Debounce.Std(),
			Extensions: cfg.Convert.AttachmentExtensions,
		}, logger)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP runs an initial full pass, then serves the MCP tools over
// stdio.
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := bootstrap(opts, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.conv.Run(ctx); err != nil {
		return fmt.Errorf("initial conversion failed: %w", err)
	}

	srv := mcpserver.New(rt.conv, rt.vault, rt.db)
	return srv.ServeStdio()
}

// batchNotifier forwards watcher batches to the converter and
// publishes completion events.
type batchNotifier struct {
	conv   *convert.Converter
	broker *sse.Broker
}

func (b batchNotifier) ApplyBatch(ctx context.Context, events []models.ChangeEvent) (models.Stats, error) {
	stats, err := b.conv.ApplyBatch(ctx, events)
	if err == nil {
		b.broker.PublishBatchCompleted(stats)
	}
	return stats, err
}
