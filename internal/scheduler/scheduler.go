// Package scheduler implements the cron-driven background job runner
// (spec.md §4.10): long-running data-export jobs that fire on a cron
// expression, request a report from the broker adapter, poll for
// readiness, persist the result to disk, and prune files past their
// retention window. Grounded on robfig/cron/v3 (already in the
// teacher's dependency stack) for expression parsing supporting both
// 5-field and 6-field formats.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rustyeddy/tradegate/internal/audit"
)

// ReportRequester is the narrow slice of broker functionality a report
// job needs: request a report, poll until ready, download the bytes.
// Kept as an interface so tests can fake it without a real broker.
type ReportRequester interface {
	RequestReport(ctx context.Context, jobName string) (requestID string, err error)
	ReportReady(ctx context.Context, requestID string) (bool, error)
	DownloadReport(ctx context.Context, requestID string) ([]byte, error)
}

// Job is one configured scheduled export (spec.md §4.10).
type Job struct {
	ID            string
	Name          string
	Enabled       bool
	AutoSchedule  bool
	CronExpr      string
	RetentionDays int
}

// Scheduler owns the cron loop and the on-disk output directory.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	requester ReportRequester
	audit     audit.Store
	outputDir string
	pollEvery time.Duration
	maxPolls  int
	entries   map[string]cron.EntryID
}

// New builds a scheduler. parser accepts both 5-field and 6-field cron
// expressions per spec.md §4.10.
func New(requester ReportRequester, store audit.Store, outputDir string) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		requester: requester,
		audit:     store,
		outputDir: outputDir,
		pollEvery: time.Second,
		maxPolls:  60,
		entries:   make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) emit(ctx context.Context, correlationID string, kind audit.Kind, job Job, extra map[string]string) {
	if s.audit == nil {
		return
	}
	payload := map[string]string{"job_id": job.ID, "job_name": job.Name}
	for k, v := range extra {
		payload[k] = v
	}
	ev, err := audit.NewEvent(correlationID, kind, "scheduler", payload)
	if err == nil {
		_ = s.audit.Append(ctx, ev)
	}
}

// AddJob registers job with the cron loop. Disabled jobs are skipped:
// they are neither stored nor scheduled.
func (s *Scheduler) AddJob(job Job) error {
	if !job.Enabled {
		return nil
	}
	id, err := s.cron.AddFunc(job.CronExpr, func() {
		s.runJob(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add job %s: %w", job.ID, err)
	}
	s.mu.Lock()
	s.entries[job.ID] = id
	s.mu.Unlock()
	return nil
}

// Start begins firing jobs on the cron's own worker pool, never blocking
// the foreground request handlers (spec.md §5).
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler. If wait is true, it blocks until any
// in-flight job run completes.
func (s *Scheduler) Stop(wait bool) {
	ctx := s.cron.Stop()
	if wait {
		<-ctx.Done()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	correlationID := ""
	s.emit(ctx, correlationID, audit.ReportJobStarted, job, nil)

	requestID, err := s.requester.RequestReport(ctx, job.Name)
	if err != nil {
		s.emit(ctx, correlationID, audit.ReportJobFailed, job, map[string]string{"error": err.Error()})
		return
	}

	ready, err := s.waitUntilReady(ctx, requestID)
	if err != nil || !ready {
		reason := "poll exhausted without a ready report"
		if err != nil {
			reason = err.Error()
		}
		s.emit(ctx, correlationID, audit.ReportJobFailed, job, map[string]string{"error": reason})
		return
	}

	data, err := s.requester.DownloadReport(ctx, requestID)
	if err != nil {
		s.emit(ctx, correlationID, audit.ReportJobFailed, job, map[string]string{"error": err.Error()})
		return
	}

	path, err := s.persist(job, data)
	if err != nil {
		s.emit(ctx, correlationID, audit.ReportJobFailed, job, map[string]string{"error": err.Error()})
		return
	}

	s.emit(ctx, correlationID, audit.ReportJobCompleted, job, map[string]string{"path": path})
	s.prune(job)
}

func (s *Scheduler) waitUntilReady(ctx context.Context, requestID string) (bool, error) {
	for i := 0; i < s.maxPolls; i++ {
		ready, err := s.requester.ReportReady(ctx, requestID)
		if err != nil {
			return false, err
		}
		if ready {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
	return false, nil
}

func (s *Scheduler) persist(job Job, data []byte) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("scheduler: mkdir output dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d.dat", job.ID, time.Now().UnixNano())
	path := filepath.Join(s.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("scheduler: write report: %w", err)
	}
	return path, nil
}

// prune removes files under s.outputDir older than job.RetentionDays
// whose name is prefixed with job.ID.
func (s *Scheduler) prune(job Job) {
	if job.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(job.RetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return
	}
	prefix := job.ID + "-"
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) < len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.outputDir, e.Name()))
		}
	}
}
