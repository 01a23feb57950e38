package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/meridian/chat-insights/internal/config"
	"github.com/meridian/chat-insights/internal/domain"
	"github.com/meridian/chat-insights/internal/pkg/logger"
	"github.com/meridian/chat-insights/internal/repository/postgres"
	"github.com/meridian/chat-insights/internal/storage"
	"github.com/meridian/chat-insights/internal/warehouse"
	"github.com/meridian/chat-insights/internal/worker"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Exit codes: 0 run succeeded, 1 run failed, 2 bad usage or configuration.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	var (
		mode       = flag.String("mode", "daily", "run mode: daily or backfill")
		userID     = flag.String("user", "", "user ID to backfill (required for -mode backfill)")
		orgID      = flag.String("org", "", "optional org ID to narrow a backfill")
		days       = flag.Int("days", 0, "override the daily ingestion window in days")
		simple     = flag.Bool("simple", false, "force same-day containment for this run")
		configPath = flag.String("config", "config/config.yaml", "path to the config file")
	)
	flag.Parse()

	switch domain.RunMode(*mode) {
	case domain.RunDaily, domain.RunBackfill:
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown mode %q (want daily or backfill)\n", *mode)
		flag.Usage()
		os.Exit(exitUsage)
	}
	if domain.RunMode(*mode) == domain.RunBackfill && *userID == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -mode backfill requires -user")
		flag.Usage()
		os.Exit(exitUsage)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load config: %v\n", err)
		os.Exit(exitUsage)
	}
	if *days > 0 {
		cfg.Analytics.WindowDays = *days
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid configuration: %v\n", err)
		os.Exit(exitUsage)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(!cfg.Logging.DisableRedaction)

	fmt.Println("=========================================================")
	fmt.Println(" Chat Insights Batch Run")
	fmt.Println("=========================================================")
	fmt.Printf("Mode:               %s\n", *mode)
	if *userID != "" {
		fmt.Printf("User:               %s\n", *userID)
	}
	if *orgID != "" {
		fmt.Printf("Org:                %s\n", *orgID)
	}
	if domain.RunMode(*mode) == domain.RunDaily {
		fmt.Printf("Window:             %d day(s)\n", cfg.Analytics.WindowDays)
	}
	fmt.Printf("Timezone:           %s\n", cfg.Analytics.Timezone)
	fmt.Println("---------------------------------------------------------")

	// Ctrl+C cancels the run; the pipeline aborts at the next retry check.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "Interrupt received, aborting run...")
		cancel()
	}()

	scheduleDB, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to open schedule store: %v\n", err)
		os.Exit(exitFailed)
	}
	defer scheduleDB.Close()
	scheduleDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	scheduleDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := scheduleDB.PingContext(pingCtx); err != nil {
		pingCancel()
		fmt.Fprintf(os.Stderr, "FATAL: cannot connect to schedule store: %v\n", err)
		os.Exit(exitFailed)
	}
	pingCancel()
	fmt.Println("✓ Schedule store connected")

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
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize event store client: %v\n", err)
		os.Exit(exitFailed)
	}
	defer whClient.Close()
	fmt.Println("✓ Event store client ready")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel = context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
		pingCancel()
	}

	archive, err := storage.New(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize report archive: %v\n", err)
		os.Exit(exitFailed)
	}

	runner := worker.NewRunner(
		cfg.Analytics,
		postgres.NewScheduleRepo(scheduleDB),
		warehouse.NewEventReader(whClient.DB()),
		warehouse.NewMerger(whClient.DB()),
		archive,
	)
	runner.UseDistributedLock(redisClient, scheduleDB, cfg.Analytics.LockTTL())

	report, err := runner.Run(ctx, worker.RunParams{
		Mode:      domain.RunMode(*mode),
		UserID:    *userID,
		OrgID:     *orgID,
		UseSimple: *simple,
	})
	if err != nil && report == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(exitFailed)
	}

	printReport(report)
	if !report.Succeeded {
		os.Exit(exitFailed)
	}
	os.Exit(exitOK)
}

func printReport(r *domain.RunReport) {
	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println(" RUN REPORT")
	fmt.Println("=========================================================")
	fmt.Printf("  Run ID:           %s\n", r.RunID)
	fmt.Printf("  Mode:             %s\n", r.Mode)
	fmt.Printf("  Duration:         %s\n", r.Duration().Round(time.Millisecond))
	fmt.Printf("  Events read:      %d\n", r.EventsRead)
	fmt.Printf("  Rows skipped:     %d\n", r.RowsSkipped)
	fmt.Printf("  Conversations:    %d\n", r.Partitions)
	fmt.Printf("  Rows planned:     %d\n", r.RowsPlanned)
	fmt.Printf("  Rows merged:      %d\n", r.RowsMerged)
	fmt.Printf("  Warnings:         %d\n", r.Warnings)
	if len(r.ScheduleSources) > 0 {
		keys := make([]string, 0, len(r.ScheduleSources))
		for k := range r.ScheduleSources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, r.ScheduleSources[k]))
		}
		fmt.Printf("  Schedules:        %s\n", strings.Join(parts, ", "))
	}
	fmt.Println("=========================================================")
	if r.Succeeded {
		fmt.Println("  OVERALL: OK ✓")
	} else {
		fmt.Printf("  OVERALL: FAILED ✗  (%s)\n", r.Error)
	}
	fmt.Println("=========================================================")
}
