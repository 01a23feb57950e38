package domain

import (
	"time"
)

// RunMode enumerates the kinds of analytics batch runs.
type RunMode string

const (
	// RunDaily recomputes per-day performance rows for events ingested
	// inside the recent window.
	RunDaily RunMode = "daily"
	// RunBackfill recomputes lifetime conversation rows across the full
	// history of one user.
	RunBackfill RunMode = "backfill"
)

// RunReport is the durable record of a single analytics batch run. One run
// processes one batch end to end; the report captures its inputs, counters,
// and outcome for auditing and the runs API.
type RunReport struct {
	RunID         string  `json:"run_id"`
	Mode          RunMode `json:"mode"`
	WindowDays    int     `json:"window_days"`
	UserID        string  `json:"user_id,omitempty"`
	OrgID         string  `json:"org_id,omitempty"`
	StrictSameDay bool    `json:"strict_same_day"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	EventsRead  int `json:"events_read"`
	RowsSkipped int `json:"rows_skipped"`
	Partitions  int `json:"partitions"`
	RowsPlanned int `json:"rows_planned"`
	RowsMerged  int `json:"rows_merged"`
	Warnings    int `json:"warnings"`

	// ScheduleSources counts how many processed users resolved their
	// working hours from each source (self, team, org, default).
	ScheduleSources map[string]int `json:"schedule_sources,omitempty"`

	Error     string `json:"error,omitempty"`
	Succeeded bool   `json:"succeeded"`
}

// Duration returns the wall-clock time the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
