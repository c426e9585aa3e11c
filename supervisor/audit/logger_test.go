package audit

import (
	"os"
	"path"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a temporary test database
func setupTestDB(t *testing.T) *sqlx.DB {
	tmpDir := t.TempDir()
	dbPath := path.Join(tmpDir, "test_audit.db")
	db := sqlx.MustConnect("sqlite3", dbPath)
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func TestNewLogger(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)

	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	if logger.db == nil {
		t.Fatal("Logger's internal db is nil")
	}
}

func TestDBInit(t *testing.T) {
	db := setupTestDB(t)
	err := DBInit(db)

	if err != nil {
		t.Fatalf("DBInit returned error: %v", err)
	}

	// Verify table exists
	var tableName string
	err = db.Get(&tableName, "SELECT name FROM sqlite_master WHERE type='table' AND name='sidecar_events'")
	if err != nil {
		t.Fatalf("Table 'sidecar_events' does not exist: %v", err)
	}

	// Verify indexes exist
	var count int
	err = db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='sidecar_events'")
	if err != nil {
		t.Fatalf("Failed to query indexes: %v", err)
	}
	if count < 3 {
		t.Errorf("Expected at least 3 indexes, got %d", count)
	}
}

func TestLogStartSucceeded(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if err := logger.LogStartSucceeded("proj-1", 9001, 4321); err != nil {
		t.Fatalf("LogStartSucceeded returned error: %v", err)
	}

	var event Event
	err = db.Get(&event, "SELECT * FROM sidecar_events WHERE project_id = 'proj-1'")
	if err != nil {
		t.Fatalf("Failed to read back event: %v", err)
	}

	if event.EventType != string(EventStartSucceeded) {
		t.Errorf("Expected event type %s, got %s", EventStartSucceeded, event.EventType)
	}
	if event.Port != 9001 {
		t.Errorf("Expected port 9001, got %d", event.Port)
	}
	if event.PID != 4321 {
		t.Errorf("Expected pid 4321, got %d", event.PID)
	}
	if event.ID == "" {
		t.Error("Expected a non-empty event id")
	}
	if event.Timestamp == 0 {
		t.Error("Expected a non-zero timestamp")
	}
}

func TestLogStartFailedCarriesDetail(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	detail := "Port is already in use by another application"
	if err := logger.LogStartFailed("proj-1", 9001, detail); err != nil {
		t.Fatalf("LogStartFailed returned error: %v", err)
	}

	var event Event
	err = db.Get(&event, "SELECT * FROM sidecar_events WHERE event_type = 'start_failed'")
	if err != nil {
		t.Fatalf("Failed to read back event: %v", err)
	}
	if event.Detail != detail {
		t.Errorf("Expected detail %q, got %q", detail, event.Detail)
	}
	if event.PID != 0 {
		t.Errorf("Expected pid 0 for a failed start, got %d", event.PID)
	}
}

func TestRecentEvents(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if err := logger.LogStartSucceeded("proj-1", 9001, 100); err != nil {
		t.Fatalf("LogStartSucceeded returned error: %v", err)
	}
	if err := logger.LogStop("proj-1", 9001, 100); err != nil {
		t.Fatalf("LogStop returned error: %v", err)
	}
	if err := logger.LogZombieSweep("proj-2", 9002); err != nil {
		t.Fatalf("LogZombieSweep returned error: %v", err)
	}

	events, err := logger.RecentEvents("proj-1", 10)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events for proj-1, got %d", len(events))
	}
	for _, event := range events {
		if event.ProjectID != "proj-1" {
			t.Errorf("Expected only proj-1 events, got %s", event.ProjectID)
		}
	}

	limited, err := logger.RecentEvents("proj-1", 1)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 event with limit 1, got %d", len(limited))
	}
}

func TestLogPortConflict(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if err := logger.LogPortConflict("proj-1", 9001, "port is in use by project proj-2"); err != nil {
		t.Fatalf("LogPortConflict returned error: %v", err)
	}

	events, err := logger.RecentEvents("proj-1", 10)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].EventType != string(EventPortConflict) {
		t.Errorf("Expected event type %s, got %s", EventPortConflict, events[0].EventType)
	}
}
