package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/JSON API and the scheduled report runner",
	Long: `serve builds the full dependency graph (audit log, kill switch,
risk engine, approval service, order submitter, cancel/modify service and
tool gateway) and exposes it over internal/httpapi, starting the
report scheduler when the config carries any scheduled jobs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer c.Close()

	log := newLogger(c.Config.Env)
	defer log.Sync()

	shutdownTracing := newTracerProvider(c.Config.Env)
	defer shutdownTracing()

	if len(c.Config.Scheduler.Jobs) > 0 {
		requester := &brokerReportRequester{broker: c.Broker, accountID: firstNonEmpty(c.Config.Broker.ClientID, "SIM-001")}
		if err := c.StartScheduler(requester, "./data/reports"); err != nil {
			return fmt.Errorf("serve: start scheduler: %w", err)
		}
		defer c.Scheduler.Stop(true)
	}

	server := httpapi.NewServer(c, log)
	httpServer := httpapi.NewHTTPServer(serveAddr, server)

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("tradegate listening on %s (env=%s)\n", serveAddr, c.Config.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: listen: %w", err)
	case <-sigCh:
		fmt.Println("shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// brokerReportRequester implements scheduler.ReportRequester over a
// broker.Broker's read endpoints, synthesizing a report from the
// account's current portfolio and open orders since spec.md §4.10 is
// silent on which specific broker endpoint backs report generation
// (Open Question, resolved here as "use what the Broker interface
// already exposes rather than inventing a new adapter method").
// Reports are ready as soon as requested; the ReportReady/DownloadReport
// split still exists so the scheduler's poll loop exercises the same
// code path a genuinely async report provider would need.
type brokerReportRequester struct {
	mu        sync.Mutex
	broker    broker.Broker
	accountID string
	reports   map[string][]byte
}

func (b *brokerReportRequester) RequestReport(ctx context.Context, jobName string) (string, error) {
	portfolio, err := b.broker.GetPortfolio(ctx, b.accountID)
	if err != nil {
		return "", err
	}
	orders, err := b.broker.GetOpenOrders(ctx, b.accountID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(map[string]any{
		"job":         jobName,
		"generated_at": time.Now().UTC(),
		"portfolio":   portfolio,
		"open_orders": orders,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	b.mu.Lock()
	if b.reports == nil {
		b.reports = make(map[string][]byte)
	}
	b.reports[requestID] = data
	b.mu.Unlock()
	return requestID, nil
}

func (b *brokerReportRequester) ReportReady(ctx context.Context, requestID string) (bool, error) {
	b.mu.Lock()
	_, ok := b.reports[requestID]
	b.mu.Unlock()
	return ok, nil
}

func (b *brokerReportRequester) DownloadReport(ctx context.Context, requestID string) ([]byte, error) {
	b.mu.Lock()
	data, ok := b.reports[requestID]
	delete(b.reports, requestID)
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("report %s not found", requestID)
	}
	return data, nil
}
