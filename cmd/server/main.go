/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from LEDGER_* environment variables
  2. Build the zap logger
  3. Open the SQLite store (migrates on open)
  4. Choose subject locks: Redis when LEDGER_REDIS_ADDR is set, else in-process
  5. Create the coordinator, API handler and router
  6. Start server with graceful shutdown

ENVIRONMENT:
  LEDGER_ADDR                     listen address (default :8080)
  LEDGER_DB_PATH                  SQLite file, ":memory:" for a throwaway store
  LEDGER_LOG_LEVEL / LOG_FORMAT   debug|info|warn|error, json|console
  LEDGER_REDIS_ADDR               share subject locks across processes
  LEDGER_LOCK_TTL                 Redis lock TTL
  LEDGER_CORS_ORIGINS             comma separated
  LEDGER_ALLOW_PLACEHOLDER_ITEMS  create unknown items on first use

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  LEDGER_DB_PATH=./data/ledger.db ./server

  # Run two instances against one Redis
  LEDGER_REDIS_ADDR=localhost:6379 LEDGER_ADDR=:8081 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - cmd/ledger-repair: offline replay tool
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/coordinator"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/logging"
	"github.com/warp/stock-ledger/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer log.Sync()

	// Initialize store
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer st.Close()

	var locker lock.Locker = lock.NewLocal()
	if cfg.UseRedisLocks() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		locker = lock.NewRedis(rdb, cfg.LockTTL)
		log.Info("using redis subject locks", zap.String("addr", cfg.RedisAddr))
	}

	coord := coordinator.New(st,
		coordinator.WithLogger(log.Named("coordinator")),
		coordinator.WithLocker(locker),
		coordinator.WithPlaceholderItems(cfg.AllowPlaceholderItems),
	)
	handler := api.NewHandler(coord, log.Named("api"))
	router := api.NewRouter(handler, api.RouterConfig{CORSOrigins: cfg.CORSOrigins})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
