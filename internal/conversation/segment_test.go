package conversation

import (
	"fmt"
	"testing"
	"time"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}

func ev(id, msgID, chat string, dir Direction, ts time.Time) MessageEvent {
	return MessageEvent{
		EventID:          id,
		MessageID:        msgID,
		ChatID:           chat,
		UserID:           "7",
		OrgID:            "2",
		AgentPhoneNumber: "+14155550100",
		Direction:        dir,
		MessageTimestamp: ts,
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"INCOMING", Incoming, false},
		{"OUTGOING", Outgoing, false},
		{"incoming", Incoming, false},
		{" Outgoing ", Outgoing, false},
		{"INBOUND", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDirection(%q) expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDirection(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDirectionActor(t *testing.T) {
	if got := Outgoing.Actor(); got != "employee" {
		t.Errorf("Outgoing.Actor() = %q, want employee", got)
	}
	if got := Incoming.Actor(); got != "contact" {
		t.Errorf("Incoming.Actor() = %q, want contact", got)
	}
}

func TestSortEventsBreaksTiesByEventID(t *testing.T) {
	base := at(t, "2025-01-06T10:00:00Z")
	events := []MessageEvent{
		ev("e3", "m3", "c1", Incoming, base.Add(time.Minute)),
		ev("e2", "m2", "c1", Outgoing, base),
		ev("e1", "m1", "c1", Incoming, base),
	}
	SortEvents(events)

	got := []string{events[0].EventID, events[1].EventID, events[2].EventID}
	want := []string{"e1", "e2", "e3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSegment(t *testing.T) {
	base := at(t, "2025-01-06T09:00:00Z")
	events := []MessageEvent{
		ev("e1", "m1", "c1", Incoming, base),
		ev("e2", "m2", "c1", Outgoing, base.Add(5*time.Minute)),
		ev("e3", "m2", "c1", Outgoing, base.Add(6*time.Minute)),
		ev("e4", "m3", "c1", Incoming, base.Add(30*time.Minute)),
		ev("e5", "m4", "c1", Outgoing, base.Add(32*time.Minute)),
	}

	s := Segment(events)

	if s.Starter() != "contact" {
		t.Errorf("Starter = %q, want contact", s.Starter())
	}
	if s.LastFrom() != "employee" {
		t.Errorf("LastFrom = %q, want employee", s.LastFrom())
	}
	if s.ContactMessages != 2 || s.AgentMessages != 3 {
		t.Errorf("counts = %d contact / %d agent, want 2/3", s.ContactMessages, s.AgentMessages)
	}
	if s.UniqueMessages != 4 {
		t.Errorf("UniqueMessages = %d, want 4 (m2 repeats)", s.UniqueMessages)
	}
	if s.FollowUps != 1 {
		t.Errorf("FollowUps = %d, want 1", s.FollowUps)
	}
	if len(s.ResponsePairs) != 2 {
		t.Fatalf("ResponsePairs = %d, want 2", len(s.ResponsePairs))
	}
	if !s.ResponsePairs[0].ContactAt.Equal(base) || !s.ResponsePairs[0].AgentAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("first pair = %+v", s.ResponsePairs[0])
	}
	if s.FirstContactAt == nil || !s.FirstContactAt.Equal(base) {
		t.Errorf("FirstContactAt = %v, want %v", s.FirstContactAt, base)
	}
	if s.FirstAgentAt == nil || !s.FirstAgentAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("FirstAgentAt = %v", s.FirstAgentAt)
	}
}

func TestSegmentEmpty(t *testing.T) {
	s := Segment(nil)
	if s.ContactMessages != 0 || s.AgentMessages != 0 || len(s.ResponsePairs) != 0 {
		t.Errorf("empty partition produced %+v", s)
	}
	if s.FirstContactAt != nil || s.FirstAgentAt != nil {
		t.Errorf("empty partition has first timestamps: %+v", s)
	}
}

func TestResponsePairCompleteness(t *testing.T) {
	// Every (incoming, outgoing) adjacency must yield exactly one pair,
	// regardless of the surrounding pattern. The direction sequence below
	// is arbitrary but fixed.
	base := at(t, "2025-01-06T09:00:00Z")
	var events []MessageEvent
	for i := 0; i < 200; i++ {
		dir := Incoming
		if (i*i+3*i)%5 < 2 {
			dir = Outgoing
		}
		events = append(events, ev(
			fmt.Sprintf("e%03d", i),
			fmt.Sprintf("m%03d", i),
			"c1", dir, base.Add(time.Duration(i)*time.Minute)))
	}

	want := 0
	for i := 1; i < len(events); i++ {
		if events[i-1].Direction == Incoming && events[i].Direction == Outgoing {
			want++
		}
	}

	s := Segment(events)
	if len(s.ResponsePairs) != want {
		t.Errorf("pairs = %d, want %d", len(s.ResponsePairs), want)
	}
}

func TestPartitionLifetime(t *testing.T) {
	base := at(t, "2025-01-06T09:00:00Z")
	events := []MessageEvent{
		ev("e4", "m4", "c2", Outgoing, base.Add(3*time.Minute)),
		ev("e1", "m1", "c1", Incoming, base),
		ev("e3", "m3", "c1", Outgoing, base.Add(2*time.Minute)),
		ev("e2", "m2", "c2", Incoming, base.Add(time.Minute)),
	}

	parts := PartitionLifetime(events)
	if len(parts) != 2 {
		t.Fatalf("partitions = %d, want 2", len(parts))
	}
	if parts[0].Key.ChatID != "c1" || parts[1].Key.ChatID != "c2" {
		t.Errorf("partition order = %s, %s", parts[0].Key, parts[1].Key)
	}
	if parts[0].Key.Date != "" {
		t.Errorf("lifetime partition has date %q", parts[0].Key.Date)
	}
	if parts[0].Events[0].EventID != "e1" || parts[0].Events[1].EventID != "e3" {
		t.Errorf("c1 events out of order: %s, %s", parts[0].Events[0].EventID, parts[0].Events[1].EventID)
	}
	if got := parts[0].Start(); !got.Equal(base) {
		t.Errorf("Start = %v, want %v", got, base)
	}
	if got := parts[0].AgentPhone(); got != "+14155550100" {
		t.Errorf("AgentPhone = %q", got)
	}
}

func TestPartitionDaily(t *testing.T) {
	events := []MessageEvent{
		ev("e1", "m1", "c1", Incoming, at(t, "2025-01-06T23:30:00Z")),
		ev("e2", "m2", "c1", Outgoing, at(t, "2025-01-07T00:10:00Z")),
	}

	utc := PartitionDaily(events, time.UTC)
	if len(utc) != 2 {
		t.Fatalf("UTC partitions = %d, want 2", len(utc))
	}
	if utc[0].Key.Date != "2025-01-06" || utc[1].Key.Date != "2025-01-07" {
		t.Errorf("UTC dates = %s, %s", utc[0].Key.Date, utc[1].Key.Date)
	}

	// In UTC+05:30 both events land on January 7th.
	ist := time.FixedZone("UTC+0530", 5*3600+30*60)
	local := PartitionDaily(events, ist)
	if len(local) != 1 {
		t.Fatalf("UTC+0530 partitions = %d, want 1", len(local))
	}
	if local[0].Key.Date != "2025-01-07" {
		t.Errorf("UTC+0530 date = %s, want 2025-01-07", local[0].Key.Date)
	}
}
