/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the smart bin loyalty API server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire engine, registry, payout gateway, event publisher
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080)
  -db                SQLite database path (default: smartbin.db)
                     Use ":memory:" for in-memory database
  -points-per-bottle Points awarded per bottle (default: 10)
  -min-redeem        Minimum redeemable points (default: 100)
  -rate              Rupiah value of one point (default: 10)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/smartbin.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  PORT and DB_PATH override the flag defaults when set (loaded from
  .env via godotenv when present).

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/rofiuddin15/smartbin-api/api"
	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/event"
	"github.com/rofiuddin15/smartbin-api/ledger"
	"github.com/rofiuddin15/smartbin-api/payout"
	"github.com/rofiuddin15/smartbin-api/store/sqlite"
)

func main() {
	// .env is optional; flags and env vars win over defaults
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "smartbin.db"), "SQLite database path")
	pointsPerBottle := flag.Int64("points-per-bottle", 10, "points awarded per bottle")
	minRedeem := flag.Int64("min-redeem", 100, "minimum redeemable points")
	rate := flag.Int64("rate", 10, "rupiah value of one point")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire domain components
	cfg := ledger.DefaultConfig()
	cfg.PointsPerBottle = ledger.Points(*pointsPerBottle)
	cfg.MinimumRedeemPoints = ledger.Points(*minRedeem)
	cfg.ConversionRate = decimal.NewFromInt(*rate)

	events := &event.Log{}
	gateway := &payout.Simulated{Latency: 200 * time.Millisecond}
	engine := ledger.NewEngine(store, gateway, events, cfg)
	registry := bin.NewRegistry(store, events)

	// Create router
	handler := api.NewHandler(store, engine, registry)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api/v1", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
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
