/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reseller hierarchy engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Ensure the admin account and default catalog exist
  4. Configure HTTP router and optional validity sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, or PORT)
  -db      SQLite database path (default: reseller.db, or DB_PATH)
           Use ":memory:" for an in-memory database
  -sweep   Validity sweep interval, 0 disables (default: 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/reseller.db"

  # Run with an hourly validity sweep
  ./server -sweep=1h

SEE ALSO:
  - api/server.go: router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/skycast/reseller-engine/api"
	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
	"github.com/skycast/reseller-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Flags (env vars supply defaults)
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "reseller.db"), "SQLite database path")
	sweep := flag.Duration("sweep", 0, "validity sweep interval (0 disables)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	if err := bootstrap(context.Background(), store); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap database")
	}

	// Initialize handler and router. The SQLite store doubles as the
	// package catalog.
	handler := api.NewHandler(store, store, log)
	router := api.NewRouter(handler)

	// Optional periodic sweep (the cascade is otherwise lazy)
	var sweeper *api.CascadeSweeper
	if *sweep > 0 {
		sweeper = api.NewCascadeSweeper(handler.Cascade, log, *sweep)
		sweeper.Start()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	log.Info().Msg("server stopped")
}

// bootstrap guarantees the fixed admin account and a non-empty catalog, so
// a fresh database is immediately operable.
func bootstrap(ctx context.Context, store *sqlite.Store) error {
	admin, err := store.GetAccount(ctx, api.AdminAccountID)
	if err != nil {
		return err
	}
	if admin == nil {
		if err := store.SaveAccount(ctx, hierarchy.Account{
			ID:        api.AdminAccountID,
			Name:      "Platform Admin",
			Tier:      hierarchy.TierAdmin,
			Balance:   decimal.Zero,
			Status:    hierarchy.StatusActive,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	packages, err := store.ListPackages(ctx)
	if err != nil {
		return err
	}
	if len(packages) == 0 {
		for _, p := range catalog.DefaultPackages() {
			p.CreatedAt = time.Now().UTC()
			if err := store.SavePackage(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
