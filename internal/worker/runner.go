package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meridian/chat-insights/internal/config"
	"github.com/meridian/chat-insights/internal/conversation"
	"github.com/meridian/chat-insights/internal/domain"
	"github.com/meridian/chat-insights/internal/pkg/distlock"
	"github.com/meridian/chat-insights/internal/pkg/logger"
	"github.com/meridian/chat-insights/internal/pkg/retry"
	"github.com/meridian/chat-insights/internal/schedule"
	"github.com/meridian/chat-insights/internal/upsert"
	"github.com/meridian/chat-insights/internal/warehouse"
	"github.com/meridian/chat-insights/internal/workhours"
)

// =============================================================================
// ANALYTICS RUNNER
// =============================================================================
// The runner executes one analytics batch end to end:
// 1. Load working-hours rows and user bindings from the schedule store
// 2. Stream message events from the warehouse (recent window, or one user)
// 3. Partition events into conversations (per chat, or per chat per day)
// 4. Compute response metrics against each user's effective calendar
// 5. Merge the aggregate rows into the warehouse in a single transaction
//
// Store reads and the final merge are retried on connectivity errors. Rows a
// store hands back malformed are logged and skipped. A merge conflict aborts
// the run with nothing committed.

// ErrRunInProgress is returned when another run holds the batch lock.
var ErrRunInProgress = errors.New("analytics run already in progress")

// runLockKey is the fleet-wide lock name; one run at a time, any host.
const runLockKey = "chat-insights:analytics:run"

// ScheduleSource loads working-hours rows and user bindings.
type ScheduleSource interface {
	FetchEntries(ctx context.Context) ([]schedule.Entry, int, error)
	FetchBindings(ctx context.Context) ([]schedule.Binding, error)
}

// EventSource streams message events out of the warehouse.
type EventSource interface {
	RecentEvents(ctx context.Context, windowDays int) (*warehouse.EventCursor, error)
	UserEvents(ctx context.Context, userID, orgID string) (*warehouse.EventCursor, error)
}

// PlanExecutor merges a finished plan into the warehouse.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan upsert.Plan) (int, error)
}

// ReportArchive persists run reports.
type ReportArchive interface {
	SaveRunReport(ctx context.Context, report *domain.RunReport) error
}

// RunParams select what a single run covers.
type RunParams struct {
	Mode domain.RunMode

	// RunID is assigned when empty.
	RunID string

	// UserID scopes a backfill to one user. Required in backfill mode.
	UserID string
	// OrgID optionally narrows a backfill to one org.
	OrgID string

	// UseSimple forces same-day containment for this run regardless of the
	// configured default.
	UseSimple bool
}

func (p RunParams) validate() error {
	switch p.Mode {
	case domain.RunDaily:
		return nil
	case domain.RunBackfill:
		if p.UserID == "" {
			return fmt.Errorf("backfill run requires a user_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown run mode %q", p.Mode)
	}
}

// Runner coordinates analytics batch runs.
type Runner struct {
	cfg       config.AnalyticsConfig
	loc       *time.Location
	schedules ScheduleSource
	events    EventSource
	executor  PlanExecutor
	archive   ReportArchive

	// newLock builds the cross-process run lock; nil disables locking.
	newLock func() distlock.DistLock
	nowFn   func() time.Time

	// Stats
	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64

	wg sync.WaitGroup
}

// NewRunner creates a runner over the given stores. Cross-process locking is
// off until SetLockFactory is called.
func NewRunner(cfg config.AnalyticsConfig, schedules ScheduleSource, events EventSource, executor PlanExecutor, archive ReportArchive) *Runner {
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("invalid analytics timezone, using UTC", "timezone", cfg.Timezone)
		loc = time.UTC
	}
	return &Runner{
		cfg:       cfg,
		loc:       loc,
		schedules: schedules,
		events:    events,
		executor:  executor,
		archive:   archive,
		nowFn:     time.Now,
	}
}

// SetLockFactory wires the distributed run lock. Each acquisition gets a
// fresh lock instance so concurrent Start calls never share lock state.
func (r *Runner) SetLockFactory(f func() distlock.DistLock) { r.newLock = f }

// UseDistributedLock wires the fleet-wide run lock over the given backends.
// Redis is preferred when available; otherwise PG advisory locks carry it.
func (r *Runner) UseDistributedLock(redisClient *redis.Client, db *sql.DB, ttl time.Duration) {
	r.SetLockFactory(func() distlock.DistLock {
		return distlock.NewLock(redisClient, db, runLockKey, ttl)
	})
}

// Run executes a batch synchronously and returns its report. The report is
// archived either way; a non-nil error means the run failed.
func (r *Runner) Run(ctx context.Context, params RunParams) (*domain.RunReport, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	params = withRunID(params)

	lock, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer lock.Release(ctx)
	}

	atomic.AddInt64(&r.runsStarted, 1)
	report, err := r.execute(ctx, params)
	r.count(err)
	return report, err
}

// Start launches a batch in the background and returns its run ID at once.
// The lock is taken synchronously so callers learn about an active run
// before they get a run ID.
func (r *Runner) Start(ctx context.Context, params RunParams) (string, error) {
	if err := params.validate(); err != nil {
		return "", err
	}
	params = withRunID(params)

	lock, err := r.acquire(ctx)
	if err != nil {
		return "", err
	}

	atomic.AddInt64(&r.runsStarted, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// The request context dies with the 202 response; the run gets
		// its own lifetime.
		runCtx := context.Background()
		if lock != nil {
			defer lock.Release(runCtx)
		}

		_, err := r.execute(runCtx, params)
		r.count(err)
	}()

	return params.RunID, nil
}

// Wait blocks until all background runs have finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Stats returns run counters for the health endpoint.
func (r *Runner) Stats() map[string]int64 {
	return map[string]int64{
		"runs_started":   atomic.LoadInt64(&r.runsStarted),
		"runs_succeeded": atomic.LoadInt64(&r.runsSucceeded),
		"runs_failed":    atomic.LoadInt64(&r.runsFailed),
	}
}

func (r *Runner) count(err error) {
	if err != nil {
		atomic.AddInt64(&r.runsFailed, 1)
		return
	}
	atomic.AddInt64(&r.runsSucceeded, 1)
}

func withRunID(params RunParams) RunParams {
	if params.RunID == "" {
		params.RunID = uuid.New().String()
	}
	return params
}

// acquire takes the fleet-wide run lock. It returns (nil, nil) when locking
// is not wired, and ErrRunInProgress when another run holds the lock.
func (r *Runner) acquire(ctx context.Context) (distlock.DistLock, error) {
	if r.newLock == nil {
		return nil, nil
	}
	lock := r.newLock()
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	return lock, nil
}

// execute runs the pipeline, stamps the report, and archives it.
func (r *Runner) execute(ctx context.Context, params RunParams) (*domain.RunReport, error) {
	windowDays := r.cfg.WindowDays
	if params.Mode == domain.RunBackfill {
		windowDays = 0 // backfills read the user's full history
	}

	report := &domain.RunReport{
		RunID:           params.RunID,
		Mode:            params.Mode,
		WindowDays:      windowDays,
		UserID:          params.UserID,
		OrgID:           params.OrgID,
		StrictSameDay:   params.UseSimple || r.cfg.StrictSameDayContainment,
		StartedAt:       r.nowFn(),
		ScheduleSources: make(map[string]int),
	}

	logger.Info("analytics run starting",
		"run_id", report.RunID,
		"mode", string(report.Mode),
		"window_days", report.WindowDays,
	)

	err := r.process(ctx, params, report)
	report.FinishedAt = r.nowFn()
	report.Succeeded = err == nil
	if err != nil {
		report.Error = err.Error()
		logger.Error("analytics run failed", "run_id", report.RunID, "error", err.Error())
	} else {
		logger.Info("analytics run finished",
			"run_id", report.RunID,
			"events_read", report.EventsRead,
			"partitions", report.Partitions,
			"rows_merged", report.RowsMerged,
			"duration", report.Duration().String(),
		)
	}

	if r.archive != nil {
		if aerr := r.archive.SaveRunReport(ctx, report); aerr != nil {
			logger.Error("archiving run report failed", "run_id", report.RunID, "error", aerr.Error())
		}
	}

	return report, err
}

// process is the pipeline body. It mutates the report as stages complete so
// a failed run still records how far it got.
func (r *Runner) process(ctx context.Context, params RunParams, report *domain.RunReport) error {
	// ---- Working hours and bindings ----
	var (
		entries     []schedule.Entry
		skippedRows int
	)
	err := retry.Do(ctx, "fetch working hours", func() error {
		var ferr error
		entries, skippedRows, ferr = r.schedules.FetchEntries(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetching working hours: %w", err)
	}
	report.Warnings += skippedRows

	var bindings []schedule.Binding
	err = retry.Do(ctx, "fetch user bindings", func() error {
		var ferr error
		bindings, ferr = r.schedules.FetchBindings(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetching user bindings: %w", err)
	}

	resolver := schedule.NewResolver(entries)
	if orphans := resolver.OrphanCount(bindings); orphans > 0 {
		logger.Warn("schedule rows reference unknown principals", "count", orphans)
		report.Warnings += orphans
	}

	// First binding wins for duplicated users, same as the resolver.
	bindingByUser := make(map[string]schedule.Binding, len(bindings))
	for _, b := range bindings {
		if _, ok := bindingByUser[b.UserID]; !ok {
			bindingByUser[b.UserID] = b
		}
	}

	// ---- Events ----
	var cursor *warehouse.EventCursor
	err = retry.Do(ctx, "query message events", func() error {
		var ferr error
		if params.Mode == domain.RunBackfill {
			cursor, ferr = r.events.UserEvents(ctx, params.UserID, params.OrgID)
		} else {
			cursor, ferr = r.events.RecentEvents(ctx, r.cfg.WindowDays)
		}
		return ferr
	})
	if err != nil {
		return fmt.Errorf("querying message events: %w", err)
	}
	defer cursor.Close()

	var events []conversation.MessageEvent
	for cursor.Next() {
		events = append(events, cursor.Event())
	}
	if cerr := cursor.Err(); cerr != nil {
		return fmt.Errorf("reading message events: %w", cerr)
	}
	report.EventsRead = len(events)
	report.RowsSkipped = cursor.Skipped()

	// ---- Partition ----
	var partitions []conversation.Partition
	if params.Mode == domain.RunDaily {
		partitions = conversation.PartitionDaily(events, r.loc)
	} else {
		partitions = conversation.PartitionLifetime(events)
	}
	report.Partitions = len(partitions)

	// ---- Resolve calendars for the users that have events ----
	// Users without a binding can still carry self or org schedule rows;
	// the event itself tells us their org.
	weekByUser := make(map[string]schedule.Resolved)
	for _, p := range partitions {
		uid := p.Key.UserID
		if _, ok := weekByUser[uid]; ok {
			continue
		}
		b, bound := bindingByUser[uid]
		if !bound {
			b = schedule.Binding{UserID: uid, OrgID: p.Key.OrgID}
		}
		weekByUser[uid] = resolver.Resolve(b)
	}
	report.Warnings += resolver.Warnings()
	for _, res := range weekByUser {
		report.ScheduleSources[string(res.Source)]++
	}

	// ---- Compute metrics ----
	results := r.computeAll(partitions, weekByUser, report.StrictSameDay)

	// ---- Plan and merge ----
	var plan upsert.Plan
	now := r.nowFn()
	if params.Mode == domain.RunDaily {
		records := make([]upsert.DailyRecord, len(results))
		for i, res := range results {
			records[i] = upsert.DailyRecord{
				ActivityDate:     res.key.Date,
				UserID:           res.key.UserID,
				OrgID:            res.key.OrgID,
				ChatID:           res.key.ChatID,
				AgentPhoneNumber: res.agentPhone,
				MetricValues:     res.values,
			}
		}
		plan = upsert.BuildDailyPlan(records, now)
	} else {
		records := make([]upsert.ConversationRecord, len(results))
		for i, res := range results {
			records[i] = upsert.ConversationRecord{
				UserID:           res.key.UserID,
				OrgID:            res.key.OrgID,
				ChatID:           res.key.ChatID,
				AgentPhoneNumber: res.agentPhone,
				StartedAt:        res.startedAt,
				MetricValues:     res.values,
			}
		}
		plan = upsert.BuildLifetimePlan(records, now)
	}
	report.RowsPlanned = len(plan.Rows)

	var merged int
	err = retry.Do(ctx, "merge aggregate rows", func() error {
		n, merr := r.executor.ExecutePlan(ctx, plan)
		merged = n
		return merr
	})
	if err != nil {
		return fmt.Errorf("merging aggregate rows: %w", err)
	}
	report.RowsMerged = merged

	return nil
}

// partitionResult carries one partition's computed metrics to the planner.
type partitionResult struct {
	key        conversation.PartitionKey
	agentPhone string
	startedAt  time.Time
	values     upsert.MetricValues
}

// computeAll runs the per-partition metric computation across a bounded
// worker pool. Results keep partition order so plans stay deterministic.
func (r *Runner) computeAll(partitions []conversation.Partition, weekByUser map[string]schedule.Resolved, strict bool) []partitionResult {
	if len(partitions) == 0 {
		return nil
	}

	calc := workhours.New(r.loc, strict)

	workers := r.cfg.Parallelism
	if workers <= 0 {
		workers = 1
	}
	if workers > len(partitions) {
		workers = len(partitions)
	}

	results := make([]partitionResult, len(partitions))
	tasks := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				part := partitions[i]
				stats := conversation.Segment(part.Events)
				metrics := conversation.ComputeMetrics(stats, calc, weekByUser[part.Key.UserID].Week)

				results[i] = partitionResult{
					key:        part.Key,
					agentPhone: part.AgentPhone(),
					startedAt:  part.Start(),
					values: upsert.MetricValues{
						Starter:                stats.Starter(),
						LastFrom:               stats.LastFrom(),
						ContactMessages:        stats.ContactMessages,
						AgentMessages:          stats.AgentMessages,
						UniqueMessages:         stats.UniqueMessages,
						FollowUps:              stats.FollowUps,
						AverageResponseSeconds: metrics.AverageResponseSeconds,
						FirstResponseSeconds:   metrics.FirstResponseSeconds,
					},
				}
			}
		}()
	}

	for i := range partitions {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	return results
}
