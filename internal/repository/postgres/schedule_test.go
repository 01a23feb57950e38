package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/meridian/chat-insights/internal/schedule"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestFetchEntries(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"scope", "scope_id", "weekday", "start_time_utc", "end_time_utc"}).
		AddRow("self", "14024", "mon", "10:00:00", "12:00:00").
		AddRow("team", "9", "tue", "09:00:00", "18:00:00").
		AddRow("org", "2", "wed", "09:00:00", "17:30:00").
		AddRow("region", "5", "mon", "09:00:00", "18:00:00").
		AddRow("self", "14024", "caturday", "09:00:00", "18:00:00")

	mock.ExpectQuery("SELECT scope, scope_id, weekday, start_time_utc, end_time_utc").WillReturnRows(rows)

	repo := NewScheduleRepo(db)
	entries, skipped, err := repo.FetchEntries(context.Background())
	if err != nil {
		t.Fatalf("FetchEntries() error: %v", err)
	}

	if skipped != 2 {
		t.Errorf("skipped = %d, want 2 (unknown scope and unknown weekday)", skipped)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Scope != schedule.ScopeSelf || entries[0].ScopeID != "14024" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].Weekday != schedule.Monday || entries[0].StartRaw != "10:00:00" {
		t.Errorf("first entry = %+v", entries[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFetchEntriesKeepsMalformedTimes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Bad time literals are a resolver concern, not a repository one.
	rows := sqlmock.NewRows([]string{"scope", "scope_id", "weekday", "start_time_utc", "end_time_utc"}).
		AddRow("self", "7", "mon", "nine sharp", "18:00:00")

	mock.ExpectQuery("SELECT scope, scope_id, weekday, start_time_utc, end_time_utc").WillReturnRows(rows)

	repo := NewScheduleRepo(db)
	entries, skipped, err := repo.FetchEntries(context.Background())
	if err != nil {
		t.Fatalf("FetchEntries() error: %v", err)
	}
	if skipped != 0 || len(entries) != 1 {
		t.Fatalf("skipped = %d, entries = %d, want 0 and 1", skipped, len(entries))
	}
	if entries[0].StartRaw != "nine sharp" {
		t.Errorf("StartRaw = %q, want raw value preserved", entries[0].StartRaw)
	}
}

func TestFetchEntriesQueryError(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT scope, scope_id, weekday").WillReturnError(sql.ErrConnDone)

	repo := NewScheduleRepo(db)
	if _, _, err := repo.FetchEntries(context.Background()); err == nil {
		t.Fatal("expected error from failed query")
	}
}

func TestFetchBindings(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"user_id", "team_id", "org_id"}).
		AddRow("14024", "9", "2").
		AddRow("14025", nil, "2").
		AddRow("14024", "12", "2")

	mock.ExpectQuery("SELECT user_id, team_id, org_id").WillReturnRows(rows)

	repo := NewScheduleRepo(db)
	bindings, err := repo.FetchBindings(context.Background())
	if err != nil {
		t.Fatalf("FetchBindings() error: %v", err)
	}

	if len(bindings) != 3 {
		t.Fatalf("bindings = %d, want 3 (duplicates kept for first-wins)", len(bindings))
	}
	if bindings[0] != (schedule.Binding{UserID: "14024", TeamID: "9", OrgID: "2"}) {
		t.Errorf("first binding = %+v", bindings[0])
	}
	if bindings[1].TeamID != "" {
		t.Errorf("NULL team_id should map to empty string, got %q", bindings[1].TeamID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
