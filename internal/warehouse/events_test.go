package warehouse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/meridian/chat-insights/internal/conversation"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var eventCols = []string{
	"EVENT_ID", "MESSAGE_ID", "CHAT_ID", "USER_ID", "ORG_ID",
	"AGENT_PHONE_NUMBER", "SENDER_NUMBER", "DIRECTION",
	"MESSAGE_TIMESTAMP", "INGESTION_TIMESTAMP",
}

func TestRecentEvents(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	t1 := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)
	ingested := time.Date(2025, 1, 6, 23, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(eventCols).
		AddRow("e1", "m1", "c1", "7", "2", "+14155550100", "+14155550999", "INCOMING", t1, ingested).
		AddRow("e2", "m2", "c1", "7", "2", "+14155550100", nil, "SIDEWAYS", t1.Add(time.Minute), ingested).
		AddRow("e3", "m3", "c1", "7", "2", "+14155550100", "+14155550999", "OUTGOING", t2, ingested)

	mock.ExpectQuery("FROM MESSAGE_EVENTS").WithArgs(1).WillReturnRows(rows)

	reader := NewEventReader(db)
	cur, err := reader.RecentEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	defer cur.Close()

	var events []conversation.MessageEvent
	for cur.Next() {
		events = append(events, cur.Event())
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if cur.Skipped() != 1 {
		t.Errorf("Skipped = %d, want 1 (unknown direction)", cur.Skipped())
	}
	if events[0].EventID != "e1" || events[0].Direction != conversation.Incoming {
		t.Errorf("first event = %+v", events[0])
	}
	if !events[0].MessageTimestamp.Equal(t1) {
		t.Errorf("MessageTimestamp = %v, want %v", events[0].MessageTimestamp, t1)
	}
	if events[1].EventID != "e3" || events[1].Direction != conversation.Outgoing {
		t.Errorf("second event = %+v", events[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUserEvents(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	t1 := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(eventCols).
		AddRow("e1", "m1", "c1", "14024", "2", nil, nil, "outgoing", t1, t1)

	mock.ExpectQuery("FROM MESSAGE_EVENTS").WithArgs("14024", "2").WillReturnRows(rows)

	reader := NewEventReader(db)
	cur, err := reader.UserEvents(context.Background(), "14024", "2")
	if err != nil {
		t.Fatalf("UserEvents() error: %v", err)
	}
	defer cur.Close()

	if !cur.Next() {
		t.Fatalf("expected one event, cursor error: %v", cur.Err())
	}
	got := cur.Event()
	if got.UserID != "14024" || got.Direction != conversation.Outgoing {
		t.Errorf("event = %+v", got)
	}
	if got.AgentPhoneNumber != "" {
		t.Errorf("NULL agent phone should map to empty string, got %q", got.AgentPhoneNumber)
	}
	if cur.Next() {
		t.Error("expected a single event")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUserEventsAllOrgs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows(eventCols)
	mock.ExpectQuery("FROM MESSAGE_EVENTS").WithArgs("14024").WillReturnRows(rows)

	reader := NewEventReader(db)
	cur, err := reader.UserEvents(context.Background(), "14024", "")
	if err != nil {
		t.Fatalf("UserEvents() error: %v", err)
	}
	defer cur.Close()

	if cur.Next() {
		t.Error("expected empty cursor")
	}
	if err := cur.Err(); err != nil {
		t.Errorf("cursor error: %v", err)
	}
}

func TestRecentEventsQueryError(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM MESSAGE_EVENTS").WillReturnError(sql.ErrConnDone)

	reader := NewEventReader(db)
	if _, err := reader.RecentEvents(context.Background(), 1); err == nil {
		t.Fatal("expected error from failed query")
	}
}
