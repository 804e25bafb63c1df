package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/authgate/gateway"
	"github.com/alexjbarnes/authgate/internal/config"
	"github.com/alexjbarnes/authgate/internal/credstore"
	"github.com/alexjbarnes/authgate/internal/events"
	"github.com/alexjbarnes/authgate/internal/logging"
	"github.com/alexjbarnes/authgate/internal/server"
)

var Version = "dev"

func main() {
	// Handle seed subcommand before daemon startup.
	if len(os.Args) > 1 && os.Args[1] == "seed" {
		if err := seed(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// seed writes an initial credential pair into the configured store, so
// the daemon can pick a session up after an out-of-band login.
func seed() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)

	store, closeStore, _, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Fprint(os.Stderr, "Access credential: ")
	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}

	access := scanner.Text()

	fmt.Fprint(os.Stderr, "Refresh credential: ")
	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}

	refresh := scanner.Text()

	if access == "" || refresh == "" {
		return fmt.Errorf("both credentials are required")
	}

	if err := store.Set(credstore.AccessTokenKey, access); err != nil {
		return fmt.Errorf("storing access credential: %w", err)
	}

	if err := store.Set(credstore.RefreshTokenKey, refresh); err != nil {
		return fmt.Errorf("storing refresh credential: %w", err)
	}

	fmt.Println("credentials stored")

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("authgate starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.String("store", cfg.StoreBackend),
		slog.Bool("sealed", cfg.Sealed()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, fileStore, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	routes, err := config.LoadRoutes(cfg.RoutesPath)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}

	bus := events.NewBroadcaster()

	gw, err := gateway.New(gateway.Config{
		RefreshURL:         cfg.RefreshURL,
		Store:              store,
		Bus:                bus,
		Logger:             logger.With(slog.String("service", "gateway")),
		DisableExpiryCheck: cfg.DisableExpiryCheck,
	})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	mux, err := server.NewMux(server.MuxConfig{
		Routes:    routes,
		Transport: gw,
		Events:    bus,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building mux: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if fileStore != nil {
		// Pick up credentials written by other processes, e.g. a login
		// CLI replacing the store file.
		g.Go(func() error {
			return fileStore.Watch(gctx)
		})
	}

	g.Go(func() error {
		return serve(gctx, cfg.ListenAddr, mux, logger)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("listening", slog.String("addr", addr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// buildStore constructs the credential store selected by the config.
// The returned *credstore.File is non-nil only for the file backend, so
// the caller can start its change watcher. closeStore is safe to call
// unconditionally.
func buildStore(cfg *config.Config, logger *slog.Logger) (credstore.Store, func(), *credstore.File, error) {
	closeStore := func() {}

	var (
		store     credstore.Store
		fileStore *credstore.File
	)

	switch cfg.StoreBackend {
	case config.StoreMemory:
		store = credstore.NewMemory()

	case config.StoreFile:
		path, err := storePath(cfg)
		if err != nil {
			return nil, nil, nil, err
		}

		f, err := credstore.OpenFile(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening file store: %w", err)
		}

		logger.Info("file store opened", slog.String("path", path))
		store, fileStore = f, f

	case config.StoreBolt:
		path, err := storePath(cfg)
		if err != nil {
			return nil, nil, nil, err
		}

		b, err := credstore.OpenBolt(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening bolt store: %w", err)
		}

		logger.Info("bolt store opened", slog.String("path", path))
		store = b
		closeStore = func() { closeQuietly(b, logger) }

	case config.StoreRedis:
		r := credstore.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix)
		if err := r.Ping(); err != nil {
			r.Close()
			return nil, nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}

		logger.Info("redis store connected", slog.String("addr", cfg.RedisAddr))
		store = r
		closeStore = func() { closeQuietly(r, logger) }

	default:
		// Unreachable: config validation rejects unknown backends.
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.Sealed() {
		key, err := credstore.DeriveKey(cfg.SealPassphrase, cfg.SealSalt)
		if err != nil {
			closeStore()
			return nil, nil, nil, fmt.Errorf("deriving seal key: %w", err)
		}

		sealed, err := credstore.NewSealed(store, key)
		if err != nil {
			closeStore()
			return nil, nil, nil, fmt.Errorf("sealing store: %w", err)
		}

		logger.Info("credential values sealed at rest")
		store = sealed
	}

	return store, closeStore, fileStore, nil
}

func storePath(cfg *config.Config) (string, error) {
	if cfg.StorePath != "" {
		return cfg.StorePath, nil
	}

	path, err := config.DefaultStorePath(cfg.StoreBackend)
	if err != nil {
		return "", fmt.Errorf("resolving default store path: %w", err)
	}

	return path, nil
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("closing store", slog.Any("error", err))
	}
}
