package schedule

import (
	"github.com/meridian/chat-insights/internal/pkg/logger"
)

// Scope identifies which level of the org hierarchy a schedule row applies to.
type Scope string

const (
	ScopeSelf Scope = "self"
	ScopeTeam Scope = "team"
	ScopeOrg  Scope = "org"
)

// Source tags where a resolved schedule came from.
type Source string

const (
	SourceSelf    Source = "self"
	SourceTeam    Source = "team"
	SourceOrg     Source = "org"
	SourceDefault Source = "default"
)

// Entry is one raw schedule row from the working-hours store. Times are
// kept as raw strings so parse failures can be reported per weekday instead
// of failing the whole load.
type Entry struct {
	Scope    Scope
	ScopeID  string
	Weekday  Weekday
	StartRaw string
	EndRaw   string
}

// Binding ties a user to the team and org whose schedules may apply to them.
// TeamID is empty when the user has no team.
type Binding struct {
	UserID string
	TeamID string
	OrgID  string
}

// Resolved is the effective calendar for one principal plus its provenance.
type Resolved struct {
	Binding Binding
	Week    Week
	Source  Source
}

// Resolver selects effective schedules by scope priority. Schedule rows are
// indexed once at construction; each scope group's calendar is built on
// first use and cached, so malformed rows warn once no matter how many
// principals share the group. Not safe for concurrent use.
type Resolver struct {
	byScope  map[Scope]map[string][]Entry
	weeks    map[Scope]map[string]Week
	warnings int
}

// NewResolver indexes the given schedule rows by (scope, scope_id),
// preserving store order within each group.
func NewResolver(entries []Entry) *Resolver {
	byScope := map[Scope]map[string][]Entry{
		ScopeSelf: {},
		ScopeTeam: {},
		ScopeOrg:  {},
	}
	for _, e := range entries {
		group, ok := byScope[e.Scope]
		if !ok {
			logger.Warn("skipping schedule row with unknown scope", "scope", string(e.Scope), "scope_id", e.ScopeID)
			continue
		}
		group[e.ScopeID] = append(group[e.ScopeID], e)
	}
	return &Resolver{
		byScope: byScope,
		weeks: map[Scope]map[string]Week{
			ScopeSelf: {},
			ScopeTeam: {},
			ScopeOrg:  {},
		},
	}
}

// Resolve picks the effective schedule for one binding. The highest-priority
// scope that has any rows for the principal wins outright; rows from lower
// scopes never merge in, even for weekdays the winner leaves closed.
func (r *Resolver) Resolve(b Binding) Resolved {
	if rows := r.byScope[ScopeSelf][b.UserID]; len(rows) > 0 {
		return Resolved{Binding: b, Week: r.weekFor(ScopeSelf, b.UserID, rows), Source: SourceSelf}
	}
	if b.TeamID != "" {
		if rows := r.byScope[ScopeTeam][b.TeamID]; len(rows) > 0 {
			return Resolved{Binding: b, Week: r.weekFor(ScopeTeam, b.TeamID, rows), Source: SourceTeam}
		}
	}
	if rows := r.byScope[ScopeOrg][b.OrgID]; len(rows) > 0 {
		return Resolved{Binding: b, Week: r.weekFor(ScopeOrg, b.OrgID, rows), Source: SourceOrg}
	}
	return Resolved{Binding: b, Week: DefaultWeek(), Source: SourceDefault}
}

// weekFor returns the cached calendar for a scope group, building it on
// first use.
func (r *Resolver) weekFor(scope Scope, id string, rows []Entry) Week {
	if wk, ok := r.weeks[scope][id]; ok {
		return wk
	}
	wk := r.buildWeek(rows)
	r.weeks[scope][id] = wk
	return wk
}

// ResolveAll resolves every binding, deduplicating by user ID. The first
// binding seen for a user wins; later duplicates are dropped.
func (r *Resolver) ResolveAll(bindings []Binding) []Resolved {
	seen := make(map[string]bool, len(bindings))
	out := make([]Resolved, 0, len(bindings))
	for _, b := range bindings {
		if seen[b.UserID] {
			continue
		}
		seen[b.UserID] = true
		out = append(out, r.Resolve(b))
	}
	return out
}

// buildWeek assembles a weekly calendar from one scope's rows. The first row
// seen for a weekday claims it: a row with an unparseable time leaves that
// weekday closed and logs a warning rather than aborting the run. An end
// before the start is not malformed; it is an overnight window that wraps
// into the next calendar day.
func (r *Resolver) buildWeek(rows []Entry) Week {
	var wk Week
	claimed := [7]bool{}
	for _, row := range rows {
		if row.Weekday < Monday || row.Weekday > Sunday {
			r.warnings++
			logger.Warn("schedule row has invalid weekday", "scope", string(row.Scope), "scope_id", row.ScopeID, "weekday", int(row.Weekday))
			continue
		}
		if claimed[row.Weekday] {
			continue
		}
		claimed[row.Weekday] = true

		start, err := ParseClock(row.StartRaw)
		if err != nil {
			r.warnings++
			logger.Warn("schedule row has malformed start time, weekday treated as closed",
				"scope", string(row.Scope), "scope_id", row.ScopeID, "weekday", row.Weekday.String(), "start", row.StartRaw)
			continue
		}
		end, err := ParseClock(row.EndRaw)
		if err != nil {
			r.warnings++
			logger.Warn("schedule row has malformed end time, weekday treated as closed",
				"scope", string(row.Scope), "scope_id", row.ScopeID, "weekday", row.Weekday.String(), "end", row.EndRaw)
			continue
		}
		wk[row.Weekday] = Window{Start: start, End: end}
	}
	return wk
}

// Warnings returns how many malformed rows the resolver has skipped so far.
func (r *Resolver) Warnings() int { return r.warnings }

// OrphanCount reports schedule rows whose scope_id matches no known
// principal. Such rows are data-quality noise: they never influence any
// resolved schedule but usually indicate a deleted user or a typo upstream.
func (r *Resolver) OrphanCount(bindings []Binding) int {
	users := make(map[string]bool, len(bindings))
	teams := make(map[string]bool, len(bindings))
	orgs := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		users[b.UserID] = true
		if b.TeamID != "" {
			teams[b.TeamID] = true
		}
		orgs[b.OrgID] = true
	}

	orphans := 0
	for id, rows := range r.byScope[ScopeSelf] {
		if !users[id] {
			orphans += len(rows)
		}
	}
	for id, rows := range r.byScope[ScopeTeam] {
		if !teams[id] {
			orphans += len(rows)
		}
	}
	for id, rows := range r.byScope[ScopeOrg] {
		if !orgs[id] {
			orphans += len(rows)
		}
	}
	return orphans
}
