package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/chat-insights/internal/domain"
	"github.com/meridian/chat-insights/internal/pkg/httputil"
	"github.com/meridian/chat-insights/internal/schedule"
	"github.com/meridian/chat-insights/internal/storage"
	"github.com/meridian/chat-insights/internal/worker"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	runner    *worker.Runner
	archive   *storage.Archive
	schedules worker.ScheduleSource
	scheduler *worker.Scheduler
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner *worker.Runner, archive *storage.Archive, schedules worker.ScheduleSource) *Handlers {
	return &Handlers{
		runner:    runner,
		archive:   archive,
		schedules: schedules,
	}
}

// SetScheduler wires the embedded daily scheduler so the status endpoint can
// report on it. Optional; deployments that trigger runs externally skip it.
func (h *Handlers) SetScheduler(s *worker.Scheduler) {
	h.scheduler = s
}

type backfillJobRequest struct {
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id,omitempty"`
	UseSimple bool   `json:"use_simple,omitempty"`
}

type dailyJobRequest struct {
	UseSimple bool `json:"use_simple,omitempty"`
}

type jobResponse struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// StartBackfillJob launches a lifetime backfill for one user in the
// background and returns its run ID.
//
//	POST /api/analytics/jobs
func (h *Handlers) StartBackfillJob(w http.ResponseWriter, r *http.Request) {
	var req backfillJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}

	runID, err := h.runner.Start(r.Context(), worker.RunParams{
		Mode:      domain.RunBackfill,
		UserID:    req.UserID,
		OrgID:     req.OrgID,
		UseSimple: req.UseSimple,
	})
	if errors.Is(err, worker.ErrRunInProgress) {
		httputil.Conflict(w, "an analytics run is already in progress")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.Accepted(w, jobResponse{
		RunID:  runID,
		Mode:   string(domain.RunBackfill),
		Status: "accepted",
	})
}

// StartDailyJob launches an on-demand daily run. The body is optional.
//
//	POST /api/analytics/jobs/daily
func (h *Handlers) StartDailyJob(w http.ResponseWriter, r *http.Request) {
	var req dailyJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	runID, err := h.runner.Start(r.Context(), worker.RunParams{
		Mode:      domain.RunDaily,
		UseSimple: req.UseSimple,
	})
	if errors.Is(err, worker.ErrRunInProgress) {
		httputil.Conflict(w, "an analytics run is already in progress")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.Accepted(w, jobResponse{
		RunID:  runID,
		Mode:   string(domain.RunDaily),
		Status: "accepted",
	})
}

// ListRuns returns archived run reports, newest first.
//
//	GET /api/analytics/runs?mode=daily|backfill&limit=N
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	mode := domain.RunMode(r.URL.Query().Get("mode"))
	switch mode {
	case "", domain.RunDaily, domain.RunBackfill:
	default:
		httputil.BadRequest(w, "mode must be daily or backfill")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := h.archive.ListRunReports(r.Context(), mode, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"runs":  reports,
		"count": len(reports),
	})
}

// GetRun returns one archived run report.
//
//	GET /api/analytics/runs/{runID}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	report, err := h.archive.GetRunReport(r.Context(), runID)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "run report not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, report)
}

// scheduleView is the API rendering of one resolved weekly calendar.
type scheduleView struct {
	UserID string            `json:"user_id"`
	TeamID string            `json:"team_id,omitempty"`
	OrgID  string            `json:"org_id,omitempty"`
	Source string            `json:"source"`
	Week   map[string]string `json:"week"`
}

func newScheduleView(res schedule.Resolved) scheduleView {
	week := make(map[string]string, 7)
	for d := schedule.Monday; d <= schedule.Sunday; d++ {
		week[d.String()] = res.Week[d].String()
	}
	return scheduleView{
		UserID: res.Binding.UserID,
		TeamID: res.Binding.TeamID,
		OrgID:  res.Binding.OrgID,
		Source: string(res.Source),
		Week:   week,
	}
}

// ListSchedules returns the effective weekly calendar of every bound user,
// showing which scope each calendar resolved from.
//
//	GET /api/analytics/schedules
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries, _, err := h.schedules.FetchEntries(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	bindings, err := h.schedules.FetchBindings(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	resolver := schedule.NewResolver(entries)
	resolved := resolver.ResolveAll(bindings)

	views := make([]scheduleView, len(resolved))
	for i, res := range resolved {
		views[i] = newScheduleView(res)
	}

	httputil.OK(w, map[string]interface{}{
		"schedules": views,
		"count":     len(views),
	})
}

// GetUserSchedule returns one user's effective weekly calendar. Users
// without a binding still resolve: self rows, then the optional org_id
// query parameter, then the built-in default.
//
//	GET /api/analytics/schedules/{userID}?org_id=N
func (h *Handlers) GetUserSchedule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, _, err := h.schedules.FetchEntries(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	bindings, err := h.schedules.FetchBindings(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	binding := schedule.Binding{UserID: userID, OrgID: r.URL.Query().Get("org_id")}
	for _, b := range bindings {
		if b.UserID == userID {
			binding = b
			break
		}
	}

	resolver := schedule.NewResolver(entries)
	httputil.OK(w, newScheduleView(resolver.Resolve(binding)))
}

// GetSystemStatus reports run counters and archive stats.
//
//	GET /api/system/status
func (h *Handlers) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"runner":  h.runner.Stats(),
		"archive": h.archive.Stats(),
	}
	if h.scheduler != nil {
		status["scheduler"] = map[string]interface{}{
			"running": h.scheduler.IsRunning(),
			"stats":   h.scheduler.Stats(),
		}
	}
	httputil.OK(w, status)
}
