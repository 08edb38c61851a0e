// Package journal persists dispatched daemon events to SQLite so operators
// can inspect what the broker saw after the fact. It plugs into a session as
// an observer and never blocks dispatch on anything but the insert itself.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/botschafter"
	"github.com/codefionn/botschafter/internal/logger"
)

// Record is one journaled event row.
type Record struct {
	ID          int64           `json:"id"`
	ReceivedAt  time.Time       `json:"received_at"`
	EventType   string          `json:"event_type"`
	Action      string          `json:"action"`
	PeerID      *int64          `json:"peer_id,omitempty"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload"`
}

// Journal handles SQLite operations for the event log.
type Journal struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// Open opens (creating if needed) the journal database at dbPath.
func Open(dbPath string, log *logger.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// One writer (the dispatcher) and concurrent readers (relay, CLI)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	j := &Journal{db: db, dbPath: dbPath, log: log}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// migrate ensures the journal schema is up to date.
func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		action TEXT NOT NULL,
		peer_id INTEGER,
		content_hash TEXT NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ObserveEvent implements botschafter.Observer. Failures are logged and
// swallowed so a full disk never takes the dispatcher down with it.
func (j *Journal) ObserveEvent(evt *botschafter.Event) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		j.log.Error("journal: cannot encode payload: %v", err)
		return
	}

	var peerID *int64
	if id, ok := evt.SenderPeerID(); ok {
		peerID = &id
	}

	rec := &Record{
		ReceivedAt:  time.Now().UTC(),
		EventType:   evt.Type.String(),
		Action:      evt.Action.String(),
		PeerID:      peerID,
		ContentHash: strconv.FormatUint(xxhash.Sum64(payload), 16),
		Payload:     payload,
	}
	if err := j.Append(rec); err != nil {
		j.log.Error("journal: append failed: %v", err)
	}
}

// Append inserts a record and fills in its assigned ID.
func (j *Journal) Append(rec *Record) error {
	var peer sql.NullInt64
	if rec.PeerID != nil {
		peer = sql.NullInt64{Int64: *rec.PeerID, Valid: true}
	}

	result, err := j.db.Exec(`
		INSERT INTO events (received_at, event_type, action, peer_id, content_hash, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ReceivedAt, rec.EventType, rec.Action, peer, rec.ContentHash, string(rec.Payload))
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(`
		SELECT id, received_at, event_type, action, peer_id, content_hash, payload
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var peer sql.NullInt64
		var payload string

		err := rows.Scan(&rec.ID, &rec.ReceivedAt, &rec.EventType, &rec.Action,
			&peer, &rec.ContentHash, &payload)
		if err != nil {
			return nil, err
		}

		if peer.Valid {
			v := peer.Int64
			rec.PeerID = &v
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PeerHistory returns up to limit records involving the given peer, newest
// first.
func (j *Journal) PeerHistory(peerID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(`
		SELECT id, received_at, event_type, action, peer_id, content_hash, payload
		FROM events
		WHERE peer_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, peerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var peer sql.NullInt64
		var payload string

		err := rows.Scan(&rec.ID, &rec.ReceivedAt, &rec.EventType, &rec.Action,
			&peer, &rec.ContentHash, &payload)
		if err != nil {
			return nil, err
		}

		if peer.Valid {
			v := peer.Int64
			rec.PeerID = &v
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats returns per-event-type row counts.
func (j *Journal) Stats() (map[string]int64, error) {
	rows, err := j.db.Query(`
		SELECT event_type, COUNT(*)
		FROM events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats[eventType] = count
	}

	return stats, rows.Err()
}

// Count returns the total number of journaled events.
func (j *Journal) Count() (int64, error) {
	var count int64
	err := j.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}
