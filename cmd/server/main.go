package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridian/chat-insights/internal/api"
	"github.com/meridian/chat-insights/internal/config"
	"github.com/meridian/chat-insights/internal/pkg/logger"
	"github.com/meridian/chat-insights/internal/repository/postgres"
	"github.com/meridian/chat-insights/internal/storage"
	"github.com/meridian/chat-insights/internal/warehouse"
	"github.com/meridian/chat-insights/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Chat Insights Server (cmd/server/main.go)                 ║")
	log.Println("║  Working-hours response analytics API + daily scheduler    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(!cfg.Logging.DisableRedaction)

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the schedule store (PostgreSQL). Statement timeouts keep a
	// wedged query from pinning a pool slot for the whole batch.
	dbURL := cfg.Postgres.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
		sep = "&"
	}
	dbURL += sep + "options=-c%20statement_timeout%3D15000"
	log.Printf("Schedule store host: ...@%s/...", extractHost(dbURL))

	scheduleDB, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open schedule store connection: %v", err)
	}
	scheduleDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	scheduleDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	scheduleDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := scheduleDB.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Schedule store ping failed: %v", err)
	}
	pingCancel()
	log.Println("Schedule store connected")

	// Connect to the event store (Snowflake). A boot-time blip is not fatal:
	// every run retries its reads, so the pipeline recovers on its own.
	whClient, err := warehouse.NewClient(warehouse.Config{
		ConnectionString: cfg.Snowflake.ConnectionString,
		Account:          cfg.Snowflake.Account,
		User:             cfg.Snowflake.User,
		Password:         cfg.Snowflake.Password,
		Database:         cfg.Snowflake.Database,
		Schema:           cfg.Snowflake.Schema,
		Warehouse:        cfg.Snowflake.Warehouse,
	})
	if err != nil {
		log.Fatalf("Failed to initialize event store client: %v", err)
	}
	pingCtx, pingCancel = context.WithTimeout(ctx, 10*time.Second)
	if err := whClient.Ping(pingCtx); err != nil {
		log.Printf("Warning: event store ping failed: %v (runs will retry)", err)
	} else {
		log.Printf("Event store connected (database: %s.%s)", cfg.Snowflake.Database, cfg.Snowflake.Schema)
	}
	pingCancel()

	// Redis backs the cross-host run lock when configured; otherwise PG
	// advisory locks carry it.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel = context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed run lock enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks for the run lock")
	}

	// Initialize the run-report archive
	archive, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize report archive: %v", err)
	}
	log.Printf("Report archive initialized (type: %s)", cfg.Storage.Type)

	// Wire the pipeline
	scheduleRepo := postgres.NewScheduleRepo(scheduleDB)
	eventReader := warehouse.NewEventReader(whClient.DB())
	merger := warehouse.NewMerger(whClient.DB())

	runner := worker.NewRunner(cfg.Analytics, scheduleRepo, eventReader, merger, archive)
	runner.UseDistributedLock(redisClient, scheduleDB, cfg.Analytics.LockTTL())

	// Start the daily scheduler if enabled
	var scheduler *worker.Scheduler
	if cfg.Analytics.SchedulerEnabled {
		scheduler = worker.NewScheduler(runner, cfg.Analytics.Interval())
		if err := scheduler.Start(); err != nil {
			log.Printf("Warning: failed to start analytics scheduler: %v", err)
		} else {
			log.Printf("Analytics scheduler started (interval: %s)", cfg.Analytics.Interval())
		}
	} else {
		log.Println("Analytics scheduler disabled — runs start via the API only")
	}

	// Initialize and start the API server
	handlers := api.NewHandlers(runner, archive, scheduleRepo)
	if scheduler != nil {
		handlers.SetScheduler(scheduler)
	}
	health := api.NewHealthChecker(scheduleDB, whClient.DB(), redisClient)
	server := api.NewServer(cfg.Server, handlers, health)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop scheduling new runs, drain HTTP, then let in-flight runs finish.
	// A run merges in a single transaction, so a kill here wastes work but
	// never leaves partial aggregates behind.
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Waiting for in-flight runs...")
	runner.Wait()

	cancel()
	whClient.Close()
	scheduleDB.Close()
	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Server stopped")
}
