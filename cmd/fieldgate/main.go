package main

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

	"github.com/fieldgate/fieldgate/internal/auth"
	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/logging"
	"github.com/fieldgate/fieldgate/internal/metrics"
	"github.com/fieldgate/fieldgate/internal/records"
	"github.com/fieldgate/fieldgate/internal/schema"
	"github.com/fieldgate/fieldgate/internal/server"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/internal/store/bolt"
	"github.com/fieldgate/fieldgate/internal/store/postgres"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Admin subcommands load config themselves and exit without
	// starting the server.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "client", "grant":
			if err := runAdmin(os.Args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("fieldgate starting",
		slog.String("version", Version),
		slog.String("environment", cfg.Environment),
		slog.Bool("postgres", cfg.UsesPostgres()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	logger.Info("schema loaded",
		slog.String("path", cfg.SchemaPath),
		slog.Int("models", len(registry.Models())),
	)

	dataset, err := records.OpenDataset(cfg.DatasetDir, logger)
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}

	clients := auth.NewRegistry(st, logger)
	issuer := auth.NewIssuer(auth.IssuerConfig{
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		CodeTTL:    cfg.AuthCodeTTL,
	}, st, st, logger)
	perms := auth.NewPermissions(st, registry)
	gateway := records.NewGateway(registry, perms, dataset, logger)
	m := metrics.New()

	mux := server.NewMux(server.MuxConfig{
		Store:       st,
		Registry:    clients,
		Issuer:      issuer,
		Permissions: perms,
		Gateway:     gateway,
		Schema:      registry,
		Consent: auth.ConsentConfig{
			StateSecret: cfg.StateSecret,
			StateTTL:    cfg.StateTTL,
			ConfirmPath: "/api/v1/confirm",
		},
		Metrics: m,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      m.Middleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(gctx, srv, logger)
	})

	g.Go(func() error {
		return prune(gctx, st, cfg.PruneInterval, logger)
	})

	if cfg.WatchDataset {
		g.Go(func() error {
			return dataset.Watch(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// openStore picks the backend: PostgreSQL when DATABASE_URL is set,
// the embedded bolt file otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.UsesPostgres() {
		return postgres.Open(ctx, cfg.DatabaseURL)
	}

	return bolt.Open(cfg.BoltPath)
}

// serve runs the HTTP server until the context is cancelled, then
// shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", slog.String("addr", srv.Addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

// prune periodically removes spent authorization codes and token pairs
// whose refresh side can never be used again.
func prune(ctx context.Context, st store.Store, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := st.PruneExpired(ctx, time.Now())
			if err != nil {
				logger.Warn("pruning expired grants failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired grants", slog.Int("removed", removed))
			}
		}
	}
}
