// Package postgres implements the schedule-store repositories against
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridian/chat-insights/internal/pkg/logger"
	"github.com/meridian/chat-insights/internal/schedule"
)

// ScheduleRepo reads working-hours rows and user bindings. Both tables are
// small enough that every run does a full scan and resolves in memory.
type ScheduleRepo struct{ db *sql.DB }

// NewScheduleRepo creates a Postgres-backed schedule repository.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

var validScopes = map[string]schedule.Scope{
	"self": schedule.ScopeSelf,
	"team": schedule.ScopeTeam,
	"org":  schedule.ScopeOrg,
}

// FetchEntries returns every working-hours row. Rows with an unknown scope
// or weekday are dropped with a warning; the second return value counts the
// drops. Start and end times stay raw so the resolver can apply its own
// per-weekday malformed-time policy.
func (r *ScheduleRepo) FetchEntries(ctx context.Context) ([]schedule.Entry, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, scope_id, weekday, start_time_utc, end_time_utc
		FROM working_hours
		ORDER BY scope, scope_id, weekday
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch working hours: %w", err)
	}
	defer rows.Close()

	var entries []schedule.Entry
	skipped := 0
	for rows.Next() {
		var scopeRaw, scopeID, weekdayRaw, startRaw, endRaw string
		if err := rows.Scan(&scopeRaw, &scopeID, &weekdayRaw, &startRaw, &endRaw); err != nil {
			return nil, 0, fmt.Errorf("scan working hours row: %w", err)
		}

		scope, ok := validScopes[strings.ToLower(strings.TrimSpace(scopeRaw))]
		if !ok {
			skipped++
			logger.Warn("dropping working-hours row with unknown scope", "scope", scopeRaw, "scope_id", scopeID)
			continue
		}
		weekday, err := schedule.ParseWeekday(weekdayRaw)
		if err != nil {
			skipped++
			logger.Warn("dropping working-hours row with unknown weekday", "scope", scopeRaw, "scope_id", scopeID, "weekday", weekdayRaw)
			continue
		}

		entries = append(entries, schedule.Entry{
			Scope:    scope,
			ScopeID:  scopeID,
			Weekday:  weekday,
			StartRaw: startRaw,
			EndRaw:   endRaw,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate working hours: %w", err)
	}
	return entries, skipped, nil
}

// FetchBindings returns every (user, team, org) binding in store order.
// Duplicate user rows are kept; the resolver applies first-wins.
func (r *ScheduleRepo) FetchBindings(ctx context.Context) ([]schedule.Binding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, team_id, org_id
		FROM user_bindings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("fetch user bindings: %w", err)
	}
	defer rows.Close()

	var bindings []schedule.Binding
	for rows.Next() {
		var userID, orgID string
		var teamID sql.NullString
		if err := rows.Scan(&userID, &teamID, &orgID); err != nil {
			return nil, fmt.Errorf("scan user binding: %w", err)
		}
		bindings = append(bindings, schedule.Binding{
			UserID: userID,
			TeamID: teamID.String,
			OrgID:  orgID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user bindings: %w", err)
	}
	return bindings, nil
}
