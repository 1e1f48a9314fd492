package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/storageio/internal/adapter/driven/fsprovider"
	githubadapter "github.com/ericfisherdev/storageio/internal/adapter/driven/github"
	"github.com/ericfisherdev/storageio/internal/adapter/driven/memory"
	s3adapter "github.com/ericfisherdev/storageio/internal/adapter/driven/s3"
	sqliteadapter "github.com/ericfisherdev/storageio/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/storageio/internal/adapter/driving/http"
	"github.com/ericfisherdev/storageio/internal/application"
	"github.com/ericfisherdev/storageio/internal/config"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.Default()
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"local_root", cfg.LocalRoot,
		"auth", cfg.APIToken != "",
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Credential registry: encrypted SQLite when a DB path is set,
	// process memory otherwise.
	var (
		credentials driven.CredentialRegistry
		healthCheck func(context.Context) error
	)
	if cfg.Persistent() {
		db, err := sqliteadapter.Open(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		version, dirty, err := sqliteadapter.SchemaVersion(db.Writer)
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("database schema version %d is dirty, a migration failed part way", version)
		}
		logger.Info("database opened", "path", db.Path(), "schema_version", version)

		credentials = sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
		healthCheck = db.Ping
	} else {
		logger.Warn("no database configured, credentials are kept in memory only")
		credentials = memory.NewCredentialRepo()
	}

	// 4. Register providers.
	manager := application.NewStorageManager(application.NewProviderRegistry(), credentials, logger)
	memProvider, err := registerProviders(manager, cfg, logger)
	if err != nil {
		return err
	}

	// 5. HTTP adapter.
	h := httphandler.NewHandler(manager, logger,
		httphandler.WithMemoryFactory(memProvider),
		httphandler.WithHealthCheck(healthCheck),
		httphandler.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	handler := httphandler.NewServeMux(h, logger, httphandler.MiddlewareConfig{
		APIToken:             cfg.APIToken,
		MaxConcurrentUploads: int64(cfg.MaxConcurrentUploads),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.ListenAddr, "providers", manager.Variants())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown with 10s timeout to drain in-flight transfers.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// registerProviders installs every provider the configuration enables and
// returns the memory provider, which also serves as the store factory.
func registerProviders(manager *application.StorageManager, cfg *config.Config, logger *slog.Logger) (*fsprovider.MemoryProvider, error) {
	memProvider := fsprovider.NewMemoryProvider(logger)
	providers := []driven.Provider{memProvider}

	if cfg.LocalEnabled() {
		local, err := fsprovider.NewLocalProvider(cfg.LocalRoot, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("local storage enabled", "base_dir", local.BaseDir())
		providers = append(providers, local)
	}

	ghOpts := []githubadapter.Option{githubadapter.WithLogger(logger)}
	if cfg.GitHubAPIURL != "" {
		base, err := githubadapter.ParseBaseURL(cfg.GitHubAPIURL)
		if err != nil {
			return nil, err
		}
		ghOpts = append(ghOpts, githubadapter.WithBaseURL(base))
	}
	providers = append(providers, githubadapter.NewProvider(ghOpts...), s3adapter.NewProvider(logger))

	for _, p := range providers {
		if err := manager.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	return memProvider, nil
}
