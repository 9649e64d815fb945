package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
)

// SQLiteStore is the default Store backend, grounded on the teacher's
// journal.SQLiteJournal (sql.Open + schema exec at construction). Writes
// are serialized by mu per spec.md §5's "single exclusive writer,
// multiple concurrent readers" rule for shared components.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB

	appended prometheus.Counter
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed audit log at
// path and installs the append-only schema.
func NewSQLiteStore(path string, reg prometheus.Registerer) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: install schema: %w", err)
	}

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradegate_audit_events_appended_total",
		Help: "Total audit events durably appended.",
	})
	if reg != nil {
		_ = reg.Register(counter)
	}

	return &SQLiteStore{db: db, appended: counter}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, correlation_id, event_type, timestamp, actor, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.CorrelationID, string(event.Kind), event.Timestamp, event.Actor, string(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	if s.appended != nil {
		s.appended.Inc()
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, event_type, timestamp, actor, payload
		FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []any

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	query := "SELECT id, correlation_id, event_type, timestamp, actor, payload FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (map[Kind]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("audit: stats: %w", err)
	}
	defer rows.Close()

	out := map[Kind]int64{}
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		out[Kind(kind)] = count
	}
	return out, rows.Err()
}

// Backup produces a consistent copy of the database at dst using SQLite's
// VACUUM INTO, then writes a dst.sha256 sidecar so the copy's integrity
// can be independently verified later (spec.md §4.1 "idempotent, periodic
// backup hook that produces a verifiable copy with an integrity check").
func (s *SQLiteStore) Backup(ctx context.Context, dst string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_ = os.Remove(dst)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dst, "'", "''"))); err != nil {
		return fmt.Errorf("audit: backup: %w", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		return fmt.Errorf("audit: open backup for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("audit: checksum backup: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return os.WriteFile(dst+".sha256", []byte(sum+"  "+dst+"\n"), 0o644)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var ts time.Time
	var actor sql.NullString
	var payload sql.NullString
	var kind string

	if err := row.Scan(&ev.ID, &ev.CorrelationID, &kind, &ts, &actor, &payload); err != nil {
		return Event{}, err
	}
	ev.Kind = Kind(kind)
	ev.Timestamp = ts
	ev.Actor = actor.String
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	return ev, nil
}
