// Package killswitch implements the process-wide halt described in
// spec.md §4.2. It is grounded on the teacher's journal/config packages
// for the "SQLite single-row table" persistence idiom, replacing the
// original_source Python implementation's singleton-plus-file-state
// pattern per spec.md §9's "explicit context-struct passing, no
// globals" redesign note.
package killswitch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS kill_switch (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	enabled BOOLEAN NOT NULL DEFAULT 0,
	reason TEXT,
	actor TEXT,
	updated_at DATETIME
);
`

// KillSwitch is safe for concurrent use; readers do not block each other,
// writes (activate/release) are serialized (spec.md §5).
type KillSwitch struct {
	mu    sync.RWMutex
	db    *sql.DB
	audit audit.Store
}

// New opens (creating if absent) the persisted kill-switch state at path
// and reads the KILL_SWITCH_ENABLED/KILL_SWITCH_REASON env override,
// which is re-checked live on every IsEnabled call so an operator can
// force-activate without touching the store (spec.md §4.2: "environment
// wins").
func New(path string, store audit.Store) (*KillSwitch, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("killswitch: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("killswitch: install schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO kill_switch (id, enabled) VALUES (1, 0)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("killswitch: seed row: %w", err)
	}

	return &KillSwitch{db: db, audit: store}, nil
}

// envState re-reads KILL_SWITCH_ENABLED live, per spec.md §4.2 — it is
// never cached so a live env change takes effect on the very next check.
func envState() (bool, string) {
	raw := strings.TrimSpace(os.Getenv("KILL_SWITCH_ENABLED"))
	if raw == "" {
		return false, ""
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, ""
	}
	return enabled, os.Getenv("KILL_SWITCH_REASON")
}

// IsEnabled reports whether writes should currently be refused.
func (k *KillSwitch) IsEnabled(ctx context.Context) (bool, string) {
	if enabled, reason := envState(); enabled {
		return true, reason
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	var enabled bool
	var reason sql.NullString
	err := k.db.QueryRowContext(ctx, `SELECT enabled, reason FROM kill_switch WHERE id = 1`).Scan(&enabled, &reason)
	if err != nil {
		return false, ""
	}
	return enabled, reason.String
}

// Activate halts all write paths, persisting the state and emitting
// KILL_SWITCH_ACTIVATED.
func (k *KillSwitch) Activate(ctx context.Context, reason, actor string) error {
	k.mu.Lock()
	_, err := k.db.ExecContext(ctx, `
		UPDATE kill_switch SET enabled = 1, reason = ?, actor = ?, updated_at = ? WHERE id = 1`,
		reason, actor, time.Now().UTC())
	k.mu.Unlock()
	if err != nil {
		return errs.Internalf("KS_ACTIVATE_FAILED", err, "killswitch: activate")
	}

	if k.audit != nil {
		ev, err := audit.NewEvent("", audit.KillSwitchActivated, actor, map[string]string{"reason": reason})
		if err == nil {
			_ = k.audit.Append(ctx, ev)
		}
	}
	return nil
}

// Release resumes normal operation, persisting the state and emitting
// KILL_SWITCH_RELEASED. Release has no effect while the environment
// override is active.
func (k *KillSwitch) Release(ctx context.Context, actor string) error {
	if enabled, _ := envState(); enabled {
		return errs.Policyf("KS_ENV_OVERRIDE", []string{"KS"}, "kill switch is force-activated by environment override")
	}

	k.mu.Lock()
	_, err := k.db.ExecContext(ctx, `
		UPDATE kill_switch SET enabled = 0, reason = NULL, actor = ?, updated_at = ? WHERE id = 1`,
		actor, time.Now().UTC())
	k.mu.Unlock()
	if err != nil {
		return errs.Internalf("KS_RELEASE_FAILED", err, "killswitch: release")
	}

	if k.audit != nil {
		ev, err := audit.NewEvent("", audit.KillSwitchReleased, actor, nil)
		if err == nil {
			_ = k.audit.Append(ctx, ev)
		}
	}
	return nil
}

// CheckOrFail enforces the kill switch on a write path; op names the
// operation for the resulting Policy error.
func (k *KillSwitch) CheckOrFail(ctx context.Context, op string) error {
	if enabled, reason := k.IsEnabled(ctx); enabled {
		msg := fmt.Sprintf("kill switch is active, refusing %s", op)
		if reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, reason)
		}
		return errs.Policyf("KILL_SWITCH_ACTIVE", []string{"KS"}, msg)
	}
	return nil
}

func (k *KillSwitch) Close() error { return k.db.Close() }
