package audit

// schema is grounded on the teacher's journal.Schema constant: table plus
// index DDL executed once at store construction. The two triggers are the
// storage-layer enforcement spec.md §4.1(a) requires: an UPDATE or DELETE
// against events aborts instead of silently rewriting history.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	actor TEXT,
	payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_type_corr_ts
	ON events(event_type, correlation_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_events_correlation
	ON events(correlation_id);

CREATE TRIGGER IF NOT EXISTS events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'audit events are append-only: update rejected');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete
BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'audit events are append-only: delete rejected');
END;
`
