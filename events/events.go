// Package events persists the sync server's operational trail in
// SQLite: syncs, previews, client registrations, evictions and agent
// timeouts, queryable after the fact.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/litsync/litsync/idgen"
)

// Schema contains the DDL for the event log.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_events (
    event_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    source        TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    client_id     TEXT,
    request_id    TEXT,
    detail        TEXT NOT NULL DEFAULT '{}',
    error_message TEXT,
    duration_ms   INTEGER,
    status        TEXT NOT NULL,
    created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_sync_events_timestamp ON sync_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_sync_events_type ON sync_events(source, event_type);
CREATE INDEX IF NOT EXISTS idx_sync_events_client ON sync_events(client_id);
`

// Init applies the schema.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("events: apply schema: %w", err)
	}
	return nil
}

// Event is one operational record.
type Event struct {
	EventID   string
	Timestamp time.Time
	Source    string // e.g. "server", "daemon"
	Type      string // e.g. "sync", "preview", "register", "evict", "timeout"

	ClientID  string
	RequestID string

	Detail       string // JSON
	ErrorMessage string
	DurationMs   int64
	Status       string // "success" or "error"
}

// Filter controls Query results.
type Filter struct {
	Since    *time.Time
	Until    *time.Time
	Source   *string
	Type     *string
	ClientID *string
	Status   *string
	Limit    int // default 100
	Offset   int
	OrderBy  string // "timestamp" or "duration_ms"
	OrderDir string // "ASC" or "DESC"
}

// Logger persists events asynchronously in batches.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Event
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// NewLogger creates an async event logger. Recommended bufferSize: 1000.
func NewLogger(db *sql.DB, bufferSize int, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *Event, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Log inserts an event synchronously.
func (l *Logger) Log(ctx context.Context, e *Event) error {
	l.fillDefaults(e)
	return l.insert(ctx, e)
}

// LogAsync queues an event for async persistence. Falls back to a
// synchronous insert when the buffer is full.
func (l *Logger) LogAsync(e *Event) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		slog.Warn("events: buffer full, sync fallback", "type", e.Type)
		if err := l.insert(context.Background(), e); err != nil {
			slog.Error("events: sync fallback failed", "error", err)
		}
	}
}

// Record builds an event from an operation outcome. detail is
// marshalled to JSON; err decides the status.
func (l *Logger) Record(source, typ, clientID string, detail any, err error, duration time.Duration) *Event {
	e := &Event{
		EventID:    l.newID(),
		Timestamp:  time.Now(),
		Source:     source,
		Type:       typ,
		ClientID:   clientID,
		DurationMs: duration.Milliseconds(),
		Status:     "success",
	}
	if detail != nil {
		if b, mErr := json.Marshal(detail); mErr == nil {
			e.Detail = string(b)
		}
	}
	if err != nil {
		e.Status = "error"
		e.ErrorMessage = err.Error()
	}
	return e
}

// Query retrieves events matching the filter, newest first by default.
func (l *Logger) Query(ctx context.Context, f *Filter) ([]*Event, error) {
	q := `SELECT event_id, timestamp, source, event_type, client_id,
		request_id, detail, error_message, duration_ms, status
		FROM sync_events WHERE 1=1`
	var args []any

	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if f.Until != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.Unix())
	}
	if f.Source != nil {
		q += " AND source = ?"
		args = append(args, *f.Source)
	}
	if f.Type != nil {
		q += " AND event_type = ?"
		args = append(args, *f.Type)
	}
	if f.ClientID != nil {
		q += " AND client_id = ?"
		args = append(args, *f.ClientID)
	}
	if f.Status != nil {
		q += " AND status = ?"
		args = append(args, *f.Status)
	}

	orderBy := "timestamp"
	if f.OrderBy != "" {
		switch f.OrderBy {
		case "timestamp", "duration_ms", "event_type", "status":
			orderBy = f.OrderBy
		default:
			return nil, fmt.Errorf("events: invalid order_by column: %q", f.OrderBy)
		}
	}
	orderDir := "DESC"
	if f.OrderDir != "" {
		switch strings.ToUpper(f.OrderDir) {
		case "ASC", "DESC":
			orderDir = strings.ToUpper(f.OrderDir)
		default:
			return nil, fmt.Errorf("events: invalid order_dir: %q", f.OrderDir)
		}
	}
	q += fmt.Sprintf(" ORDER BY %s %s", orderBy, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("events: query: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		var clientID, requestID, errorMessage sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&e.EventID, &ts, &e.Source, &e.Type,
			&clientID, &requestID, &e.Detail, &errorMessage,
			&durationMs, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("events: scan: %w", err)
		}

		e.Timestamp = time.Unix(ts, 0)
		e.ClientID = clientID.String
		e.RequestID = requestID.String
		e.ErrorMessage = errorMessage.String
		e.DurationMs = durationMs.Int64
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := l.db.ExecContext(ctx, "DELETE FROM sync_events WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("events: cleanup: %w", err)
	}
	return result.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (l *Logger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *Logger) fillDefaults(e *Event) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Detail == "" {
		e.Detail = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*Event, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("events: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			tx.Rollback()
			slog.Error("events: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.EventID, e.Timestamp.Unix(), e.Source, e.Type,
				e.ClientID, e.RequestID, e.Detail, e.ErrorMessage,
				e.DurationMs, e.Status,
			); err != nil {
				slog.Error("events: insert", "error", err, "event_id", e.EventID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("events: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertSQL = `INSERT INTO sync_events
	(event_id, timestamp, source, event_type, client_id, request_id,
	 detail, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?)`

func (l *Logger) insert(ctx context.Context, e *Event) error {
	_, err := l.db.ExecContext(ctx, insertSQL,
		e.EventID, e.Timestamp.Unix(), e.Source, e.Type,
		e.ClientID, e.RequestID, e.Detail, e.ErrorMessage,
		e.DurationMs, e.Status)
	return err
}
