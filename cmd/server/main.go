package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tidyimport/internal/config"
	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/logging"
	"github.com/JonMunkholm/tidyimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	n, err := core.RegisterDir(cfg.Import.SpecDir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("spec directory not found, only ad hoc imports are available", "dir", cfg.Import.SpecDir)
	} else if err != nil {
		slog.Error("failed to load specs", "dir", cfg.Import.SpecDir, "error", err)
		os.Exit(1)
	}
	slog.Info("specs registered",
		"count", n,
		"groups", len(core.Groups()),
	)
	for _, group := range core.Groups() {
		slog.Debug("spec group", "group", group, "specs", len(core.ByGroup(group)))
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
		slog.Info("database export enabled", "driver", cfg.Database.Driver, "table", cfg.Database.Table)
	}

	server := web.NewServer(cfg, store)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore connects the optional database sink. Postgres gets a tuned pgx
// pool; the other drivers go through export.OpenStore.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (export.Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	driver, err := export.NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if driver != "postgres" {
		return export.OpenStore(ctx, driver, cfg.URL)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return export.NewPostgresStore(pool), nil
}
