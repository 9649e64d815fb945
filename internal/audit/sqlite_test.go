package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreAppendAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ev, err := NewEvent("", OrderProposed, "system", map[string]string{"symbol": "AAPL"})
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), ev))

	got, err := store.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.CorrelationID, got.CorrelationID)
	assert.Equal(t, OrderProposed, got.Kind)
}

func TestSQLiteStoreRejectsUpdateAndDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ev, err := NewEvent("corr-1", OrderProposed, "system", nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))

	_, err = store.db.Exec(`UPDATE events SET actor = 'tampered' WHERE id = ?`, ev.ID)
	assert.Error(t, err)

	_, err = store.db.Exec(`DELETE FROM events WHERE id = ?`, ev.ID)
	assert.Error(t, err)

	got, err := store.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "system", got.Actor)
}

func TestSQLiteStoreQueryOrdersByAppendWithinCorrelation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	corr := "corr-order"
	kinds := []Kind{OrderProposed, OrderSimulated, RiskGateEvaluated}
	for _, k := range kinds {
		ev, err := NewEvent(corr, k, "system", nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), ev))
		time.Sleep(time.Millisecond)
	}

	got, err := store.Query(context.Background(), Filter{CorrelationID: corr})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, k := range kinds {
		assert.Equal(t, k, got[i].Kind)
	}
}

func TestSQLiteStoreStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		ev, err := NewEvent("", OrderProposed, "system", nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), ev))
	}
	ev, err := NewEvent("", OrderFilled, "system", nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats[OrderProposed])
	assert.EqualValues(t, 1, stats[OrderFilled])
}

func TestSQLiteStoreBackupProducesVerifiableCopy(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ev, err := NewEvent("", OrderProposed, "system", nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))

	dst := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, store.Backup(context.Background(), dst))

	db, err := sql.Open("sqlite3", dst)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count))
	assert.Equal(t, 1, count)
}
