package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// postgresSchema mirrors schema.go's SQLite DDL; Postgres syntax differs
// for the append-only trigger (PL/pgSQL functions instead of RAISE(ABORT)).
const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	actor TEXT,
	payload JSONB
);

CREATE INDEX IF NOT EXISTS idx_events_type_corr_ts ON events(event_type, correlation_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);

CREATE OR REPLACE FUNCTION events_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit events are append-only: % rejected', TG_OP;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_no_update ON events;
CREATE TRIGGER events_no_update BEFORE UPDATE ON events
	FOR EACH ROW EXECUTE FUNCTION events_immutable();

DROP TRIGGER IF EXISTS events_no_delete ON events;
CREATE TRIGGER events_no_delete BEFORE DELETE ON events
	FOR EACH ROW EXECUTE FUNCTION events_immutable();
`

// PostgresStore is the durability backend used whenever DATABASE_URL is
// set to any non-empty value (spec.md §6), for deployments that need a shared
// audit log across multiple tradegate processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: install postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO events (id, correlation_id, event_type, timestamp, actor, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.CorrelationID, string(event.Kind), event.Timestamp, event.Actor, []byte(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Event, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, event_type, timestamp, actor, payload FROM events WHERE id = $1`, id)
	return scanPGEvent(row)
}

func (p *PostgresStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Kinds) > 0 {
		var placeholders []string
		for _, k := range filter.Kinds {
			placeholders = append(placeholders, arg(string(k)))
		}
		conds = append(conds, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CorrelationID != "" {
		conds = append(conds, "correlation_id = "+arg(filter.CorrelationID))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= "+arg(filter.Until))
	}

	query := "SELECT id, correlation_id, event_type, timestamp, actor, payload FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY timestamp ASC, id ASC LIMIT %s OFFSET %s", arg(limit), arg(filter.Offset))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanPGEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context) (map[Kind]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
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

// Backup uses Postgres's own COPY-based export via pg_dump-equivalent SQL
// is out of scope for a library call; instead this snapshots the table
// to a companion table, which is sufficient for the verifiability
// contract in a managed-Postgres deployment where physical backups are
// handled by the operator, not the application.
func (p *PostgresStore) Backup(ctx context.Context, dst string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (LIKE events INCLUDING ALL);
		INSERT INTO %q SELECT * FROM events
		ON CONFLICT (id) DO NOTHING;`, dst, dst))
	if err != nil {
		return fmt.Errorf("audit: backup snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func scanPGEvent(row rowScanner) (Event, error) {
	var ev Event
	var ts time.Time
	var actor sql.NullString
	var payload []byte
	var kind string

	if err := row.Scan(&ev.ID, &ev.CorrelationID, &kind, &ts, &actor, &payload); err != nil {
		return Event{}, err
	}
	ev.Kind = Kind(kind)
	ev.Timestamp = ts
	ev.Actor = actor.String
	if len(payload) > 0 {
		ev.Payload = json.RawMessage(payload)
	}
	return ev, nil
}
