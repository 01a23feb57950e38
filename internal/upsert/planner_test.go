package upsert

import (
	"reflect"
	"testing"
	"time"
)

func lifetimeRecord(user, chat string, started time.Time) ConversationRecord {
	return ConversationRecord{
		UserID:           user,
		OrgID:            "2",
		ChatID:           chat,
		AgentPhoneNumber: "+14155550100",
		StartedAt:        started,
		MetricValues: MetricValues{
			Starter:                "contact",
			LastFrom:               "employee",
			ContactMessages:        3,
			AgentMessages:          3,
			UniqueMessages:         6,
			FollowUps:              0,
			AverageResponseSeconds: 1340,
		},
	}
}

func TestBuildLifetimePlan(t *testing.T) {
	started := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

	plan := BuildLifetimePlan([]ConversationRecord{lifetimeRecord("7", "c1", started)}, now)

	if plan.Table != LifetimeTable {
		t.Errorf("Table = %s", plan.Table)
	}
	wantKeys := []string{"uid", "org_id", "chat_id", "phone_number"}
	if !reflect.DeepEqual(plan.KeyColumns, wantKeys) {
		t.Errorf("KeyColumns = %v, want %v", plan.KeyColumns, wantKeys)
	}
	if len(plan.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(plan.Rows))
	}

	row := plan.Rows[0]
	if !reflect.DeepEqual(row.Keys, []interface{}{"7", "2", "c1", "+14155550100"}) {
		t.Errorf("Keys = %v", row.Keys)
	}
	if !row.CreatedAt.Equal(started) {
		t.Errorf("CreatedAt = %v, want conversation start %v", row.CreatedAt, started)
	}
	if !row.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", row.UpdatedAt, now)
	}
	if len(row.Values) != len(plan.ValueColumns) {
		t.Fatalf("values = %d, columns = %d", len(row.Values), len(plan.ValueColumns))
	}
	if row.Values[0] != "contact" || row.Values[1] != "employee" {
		t.Errorf("labels = %v, %v", row.Values[0], row.Values[1])
	}
	if row.Values[6] != float64(1340) {
		t.Errorf("average_response_time = %v, want 1340", row.Values[6])
	}
	if row.Values[7] != nil {
		t.Errorf("time_to_first_response = %v, want NULL", row.Values[7])
	}
}

func TestBuildDailyPlan(t *testing.T) {
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	first := 300.0

	rec := DailyRecord{
		ActivityDate:     "2025-01-06",
		UserID:           "7",
		OrgID:            "2",
		ChatID:           "c1",
		AgentPhoneNumber: "+14155550100",
		MetricValues: MetricValues{
			Starter:                "contact",
			LastFrom:               "contact",
			ContactMessages:        3,
			AgentMessages:          2,
			UniqueMessages:         5,
			FollowUps:              0,
			AverageResponseSeconds: 210,
			FirstResponseSeconds:   &first,
		},
	}

	plan := BuildDailyPlan([]DailyRecord{rec}, now)

	if plan.Table != DailyTable {
		t.Errorf("Table = %s", plan.Table)
	}
	wantKeys := []string{"activity_date", "user_id", "org_id", "contact_id", "user_number"}
	if !reflect.DeepEqual(plan.KeyColumns, wantKeys) {
		t.Errorf("KeyColumns = %v, want %v", plan.KeyColumns, wantKeys)
	}

	row := plan.Rows[0]
	if !reflect.DeepEqual(row.Keys, []interface{}{"2025-01-06", "7", "2", "c1", "+14155550100"}) {
		t.Errorf("Keys = %v", row.Keys)
	}
	// Daily rows are stamped with the run clock, not the conversation.
	if !row.CreatedAt.Equal(now) || !row.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v, want both %v", row.CreatedAt, row.UpdatedAt, now)
	}
	if row.Values[7] != 300.0 {
		t.Errorf("time_to_first_response = %v, want 300", row.Values[7])
	}
}

func TestPlanDeterminism(t *testing.T) {
	started := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

	// Same records, shuffled input order.
	forward := []ConversationRecord{
		lifetimeRecord("7", "c1", started),
		lifetimeRecord("7", "c2", started),
		lifetimeRecord("3", "c9", started),
	}
	backward := []ConversationRecord{forward[2], forward[1], forward[0]}

	a := BuildLifetimePlan(forward, now)
	b := BuildLifetimePlan(backward, now)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("plans differ for the same records in different order")
	}
	if a.Rows[0].Keys[0] != "3" {
		t.Errorf("rows not sorted by key: first = %v", a.Rows[0].Keys)
	}

	// Rebuilding is byte-stable.
	again := BuildLifetimePlan(forward, now)
	if !reflect.DeepEqual(a, again) {
		t.Errorf("replanning the same inputs changed the plan")
	}
}

func TestPlanEmpty(t *testing.T) {
	if !BuildDailyPlan(nil, time.Now()).Empty() {
		t.Errorf("nil records should plan nothing")
	}
	if BuildDailyPlan([]DailyRecord{{ActivityDate: "2025-01-06"}}, time.Now()).Empty() {
		t.Errorf("one record should plan one row")
	}
}
