// Package audit records sidecar lifecycle events in a sqlite table. The
// supervisor writes best-effort: an audit failure is logged by the caller
// and never fails the operation being audited.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventStartSucceeded EventType = "start_succeeded"
	EventStartFailed    EventType = "start_failed"
	EventStop           EventType = "stop"
	EventZombieSweep    EventType = "zombie_sweep"
	EventPortConflict   EventType = "port_conflict"
)

// Event represents a lifecycle audit entry in the database
type Event struct {
	ID        string `db:"id"`
	EventType string `db:"event_type"`
	Timestamp int64  `db:"timestamp"`
	ProjectID string `db:"project_id"`
	Port      int    `db:"port"`
	PID       int    `db:"pid"` // 0 when no process was involved
	Detail    string `db:"detail"`
}

// Logger handles audit logging for sidecar lifecycle events
type Logger struct {
	db *sqlx.DB
}

// NewLogger creates a new audit logger instance
func NewLogger(db *sqlx.DB) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Logger{
		db: db,
	}, nil
}

// DBInit initializes the lifecycle events database table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sidecar_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		port INTEGER,
		pid INTEGER,
		detail TEXT
	)
	`)
	if err != nil {
		return err
	}

	// Create indexes for common queries
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sidecar_events_timestamp ON sidecar_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sidecar_events_project_id ON sidecar_events(project_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sidecar_events_event_type ON sidecar_events(event_type)`)
	return err
}

// insertEvent is a helper method to insert an audit event into the database
func (l *Logger) insertEvent(event *Event) error {
	_, err := l.db.Exec(`
		INSERT INTO sidecar_events (
			id, event_type, timestamp, project_id, port, pid, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID,
		event.EventType,
		event.Timestamp,
		event.ProjectID,
		event.Port,
		event.PID,
		event.Detail,
	)
	return err
}

func (l *Logger) log(eventType EventType, projectID string, port, pid int, detail string) error {
	return l.insertEvent(&Event{
		ID:        uuid.New().String(),
		EventType: string(eventType),
		Timestamp: time.Now().Unix(),
		ProjectID: projectID,
		Port:      port,
		PID:       pid,
		Detail:    detail,
	})
}

// LogStartSucceeded records a sidecar reaching its bound state
func (l *Logger) LogStartSucceeded(projectID string, port, pid int) error {
	return l.log(EventStartSucceeded, projectID, port, pid, "")
}

// LogStartFailed records a terminal start failure with its diagnostic
func (l *Logger) LogStartFailed(projectID string, port int, detail string) error {
	return l.log(EventStartFailed, projectID, port, 0, detail)
}

// LogStop records a completed stop
func (l *Logger) LogStop(projectID string, port, pid int) error {
	return l.log(EventStop, projectID, port, pid, "")
}

// LogZombieSweep records a zombie sweep that removed at least one process
func (l *Logger) LogZombieSweep(projectID string, port int) error {
	return l.log(EventZombieSweep, projectID, port, 0, "")
}

// LogPortConflict records a refused start due to port arbitration
func (l *Logger) LogPortConflict(projectID string, port int, detail string) error {
	return l.log(EventPortConflict, projectID, port, 0, detail)
}

// RecentEvents returns up to limit most recent events for a project,
// newest first.
func (l *Logger) RecentEvents(projectID string, limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events, `
		SELECT id, event_type, timestamp, project_id, port, pid, detail
		FROM sidecar_events
		WHERE project_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`,
		projectID, limit,
	)
	return events, err
}
