package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	readyAfter int
	polls      int
	data       []byte
	requestErr error
}

func (f *fakeRequester) RequestReport(ctx context.Context, jobName string) (string, error) {
	if f.requestErr != nil {
		return "", f.requestErr
	}
	return "req-1", nil
}

func (f *fakeRequester) ReportReady(ctx context.Context, requestID string) (bool, error) {
	f.polls++
	return f.polls > f.readyAfter, nil
}

func (f *fakeRequester) DownloadReport(ctx context.Context, requestID string) ([]byte, error) {
	return f.data, nil
}

func TestRunJobPersistsReportToDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fr := &fakeRequester{readyAfter: 0, data: []byte("report-bytes")}
	s := New(fr, nil, dir)
	s.pollEvery = time.Millisecond

	job := Job{ID: "daily-pnl", Name: "daily_pnl", Enabled: true, CronExpr: "@daily", RetentionDays: 7}
	s.runJob(context.Background(), job)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "report-bytes", string(data))
}

func TestPruneRemovesFilesPastRetention(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	job := Job{ID: "daily-pnl", RetentionDays: 1}
	s := New(&fakeRequester{}, nil, dir)

	old := filepath.Join(dir, "daily-pnl-111.dat")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	fresh := filepath.Join(dir, "daily-pnl-222.dat")
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))

	s.prune(job)

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestAddJobAcceptsFiveAndSixFieldExpressions(t *testing.T) {
	t.Parallel()
	s := New(&fakeRequester{}, nil, t.TempDir())

	require.NoError(t, s.AddJob(Job{ID: "j5", Enabled: true, CronExpr: "0 9 * * *"}))
	require.NoError(t, s.AddJob(Job{ID: "j6", Enabled: true, CronExpr: "0 0 9 * * *"}))
}

func TestDisabledJobIsNeverScheduled(t *testing.T) {
	t.Parallel()
	s := New(&fakeRequester{}, nil, t.TempDir())
	require.NoError(t, s.AddJob(Job{ID: "off", Enabled: false, CronExpr: "not a valid expression at all"}))
}
