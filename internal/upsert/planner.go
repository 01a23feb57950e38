// Package upsert builds deterministic merge plans for the aggregate tables.
// A plan captures every row a run wants to write, keyed so the store can
// overwrite matched rows and insert the rest. Re-planning the same inputs
// with the same clock yields an identical plan, which is what makes runs
// safe to repeat.
package upsert

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrConflict marks an upsert the store rejected. The batch must stop
// without committing anything else; a conflicting merge means two writers
// raced or the key columns are wrong, and both need a human.
var ErrConflict = errors.New("upsert conflict")

// LifetimeTable and DailyTable are the merge targets.
const (
	LifetimeTable = "conversation_summary"
	DailyTable    = "daily_performance_summary"
)

var (
	lifetimeKeyColumns = []string{"uid", "org_id", "chat_id", "phone_number"}
	dailyKeyColumns    = []string{"activity_date", "user_id", "org_id", "contact_id", "user_number"}

	valueColumns = []string{
		"conversation_starter",
		"last_message_from",
		"contact_message_count",
		"agent_message_count",
		"unique_messages",
		"follow_up_count",
		"average_response_time",
		"time_to_first_response",
	}
)

// MetricValues are the analytics columns shared by both aggregate tables,
// in valueColumns order.
type MetricValues struct {
	Starter                string
	LastFrom               string
	ContactMessages        int
	AgentMessages          int
	UniqueMessages         int
	FollowUps              int
	AverageResponseSeconds float64
	FirstResponseSeconds   *float64
}

func (m MetricValues) values() []interface{} {
	var firstResponse interface{}
	if m.FirstResponseSeconds != nil {
		firstResponse = *m.FirstResponseSeconds
	}
	return []interface{}{
		m.Starter,
		m.LastFrom,
		m.ContactMessages,
		m.AgentMessages,
		m.UniqueMessages,
		m.FollowUps,
		m.AverageResponseSeconds,
		firstResponse,
	}
}

// ConversationRecord is one computed lifetime aggregate.
type ConversationRecord struct {
	UserID           string
	OrgID            string
	ChatID           string
	AgentPhoneNumber string

	// StartedAt is the conversation's first message instant; it becomes
	// created_at when the row is new.
	StartedAt time.Time

	MetricValues
}

// DailyRecord is one computed per-day aggregate.
type DailyRecord struct {
	ActivityDate     string
	UserID           string
	OrgID            string
	ChatID           string
	AgentPhoneNumber string

	MetricValues
}

// Row is one keyed merge. Keys align with Plan.KeyColumns and Values with
// Plan.ValueColumns. CreatedAt applies only when the key does not exist
// yet; UpdatedAt is written on every merge.
type Row struct {
	Keys      []interface{}
	Values    []interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Plan is the full set of merges for one target table. Rows are ordered by
// key so identical inputs produce identical plans.
type Plan struct {
	Table        string
	KeyColumns   []string
	ValueColumns []string
	Rows         []Row
}

// Empty reports whether the plan has nothing to write.
func (p Plan) Empty() bool { return len(p.Rows) == 0 }

// BuildLifetimePlan plans merges into the lifetime aggregate table. A new
// row's created_at is the conversation start, so the column reflects when
// the conversation began rather than when analytics first saw it.
func BuildLifetimePlan(records []ConversationRecord, now time.Time) Plan {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Keys:      []interface{}{r.UserID, r.OrgID, r.ChatID, r.AgentPhoneNumber},
			Values:    r.values(),
			CreatedAt: r.StartedAt,
			UpdatedAt: now,
		})
	}
	sortRows(rows)
	return Plan{
		Table:        LifetimeTable,
		KeyColumns:   lifetimeKeyColumns,
		ValueColumns: valueColumns,
		Rows:         rows,
	}
}

// BuildDailyPlan plans merges into the per-day aggregate table. New rows
// are stamped with the run clock.
func BuildDailyPlan(records []DailyRecord, now time.Time) Plan {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Keys:      []interface{}{r.ActivityDate, r.UserID, r.OrgID, r.ChatID, r.AgentPhoneNumber},
			Values:    r.values(),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	sortRows(rows)
	return Plan{
		Table:        DailyTable,
		KeyColumns:   dailyKeyColumns,
		ValueColumns: valueColumns,
		Rows:         rows,
	}
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		return keyString(rows[i].Keys) < keyString(rows[j].Keys)
	})
}

func keyString(keys []interface{}) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		s, _ := k.(string)
		parts[i] = s
	}
	return strings.Join(parts, "\x00")
}
