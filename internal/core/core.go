// Package core wires every component into a single explicit struct
// instead of relying on package-level singletons or globals (spec.md
// §9 Open Question: "no globals" resolved in favor of explicit
// context-struct passing). Grounded on the teacher's cmd/trader-cobra
// wiring, which constructs its engine/journal/broker graph in one
// place and passes it down rather than reaching for package state.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/approval"
	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/autoapproval"
	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/cancelmodify"
	"github.com/rustyeddy/tradegate/internal/config"
	"github.com/rustyeddy/tradegate/internal/gateway"
	"github.com/rustyeddy/tradegate/internal/killswitch"
	"github.com/rustyeddy/tradegate/internal/risk"
	"github.com/rustyeddy/tradegate/internal/scheduler"
	"github.com/rustyeddy/tradegate/internal/simulate"
	"github.com/rustyeddy/tradegate/internal/submit"
	"github.com/rustyeddy/tradegate/internal/types"
)

// Core aggregates every service the HTTP API and CLI operate against.
// It carries no package-level state; every field is constructed once in
// New and threaded through explicitly from there.
type Core struct {
	Config      *config.Config
	Broker      broker.Broker
	Audit       audit.Store
	KillSwitch  *killswitch.KillSwitch
	Risk        *risk.Engine
	SimConfig   simulate.Config
	Approvals   *approval.Service
	Submitter   *submit.Submitter
	CancelModify *cancelmodify.Service
	Gateway     *gateway.Gateway
	// Publisher is nil unless cfg.Audit.PublishURL is set; when present it
	// mirrors every audit event to NATS for external subscribers.
	Publisher *audit.Publisher
	// Scheduler is left nil by New: it needs a ReportRequester bound to a
	// specific reporting endpoint plus an output directory, both operator
	// choices rather than fixed process wiring. StartScheduler constructs
	// it once those are known (cmd/tradegate's serve command calls it when
	// SchedulerConfig.Jobs is non-empty).
	Scheduler *scheduler.Scheduler
}

// StartScheduler builds and starts the report scheduler against requester,
// persisting downloaded reports under outputDir, then registers every job
// from c.Config.Scheduler.Jobs. It is separate from New because a
// ReportRequester implementation is adapter-specific (spec.md §4.10 is
// silent on which broker endpoint backs it) and demo/dev runs may have
// no jobs configured at all.
func (c *Core) StartScheduler(requester scheduler.ReportRequester, outputDir string) error {
	s := scheduler.New(requester, c.Audit, outputDir)
	for _, j := range c.Config.Scheduler.Jobs {
		job := scheduler.Job{
			ID:            j.ID,
			Name:          j.Name,
			Enabled:       j.Enabled,
			AutoSchedule:  j.AutoSchedule,
			CronExpr:      j.CronExpr,
			RetentionDays: j.RetentionDays,
		}
		if err := s.AddJob(job); err != nil {
			return fmt.Errorf("core: add scheduled job %s: %w", j.ID, err)
		}
	}
	s.Start()
	c.Scheduler = s
	return nil
}

// New constructs the full dependency graph for one process. auditPath,
// killSwitchPath and approvalPath are separate SQLite files by design
// (spec.md §3: "The Kill Switch holds a single process-wide value with
// persisted backing", distinct from the audit log's own storage; the
// approval store's proposals/tokens are likewise persisted separately so
// a crash between a Grant and the matching Submit doesn't orphan a live
// token).
func New(cfg *config.Config, auditPath, killSwitchPath, approvalPath, riskPolicyPath string) (*Core, error) {
	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		pg, err := audit.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("core: open audit store: %w", err)
		}
		auditStore = pg
	} else {
		sqliteStore, err := audit.NewSQLiteStore(auditPath, nil)
		if err != nil {
			return nil, fmt.Errorf("core: open audit store: %w", err)
		}
		auditStore = sqliteStore
	}

	var publisher *audit.Publisher
	if cfg.Audit.PublishURL != "" {
		p, err := audit.NewPublisher(cfg.Audit.PublishURL, cfg.Audit.PublishSubject)
		if err != nil {
			return nil, fmt.Errorf("core: connect audit publisher: %w", err)
		}
		publisher = p
		auditStore = audit.WithPublisher(auditStore, publisher)
	}

	ks, err := killswitch.New(killSwitchPath, auditStore)
	if err != nil {
		return nil, fmt.Errorf("core: open kill switch: %w", err)
	}

	riskPolicy := risk.DefaultPolicy()
	if riskPolicyPath != "" {
		p, err := risk.LoadPolicy(riskPolicyPath)
		if err != nil {
			return nil, fmt.Errorf("core: load risk policy: %w", err)
		}
		riskPolicy = p
	}
	riskEngine := risk.New(riskPolicy)

	var b broker.Broker
	if cfg.Env == config.EnvDev {
		b = broker.NewMock(1, defaultPortfolio(), cfg.Safety.ReadOnlyMode)
	} else {
		baseURL, err := broker.OANDABaseURL(string(cfg.Env))
		if err != nil {
			return nil, fmt.Errorf("core: resolve OANDA base URL: %w", err)
		}
		adapter := broker.NewOANDAAdapter(baseURL, cfg.Broker.Token, cfg.Broker.ClientID, cfg.Safety.ReadOnlyMode)
		b = broker.NewCachedBroker(adapter)
	}

	var auto approval.AutoApprover
	if cfg.Safety.AutoApproval {
		p := autoapproval.DefaultPolicy()
		p.MaxNotional = cfg.Safety.AutoApprovalMaxNotional
		auto = p
	}

	approvals, err := approval.New(approvalPath, auditStore, ks, auto)
	if err != nil {
		return nil, fmt.Errorf("core: open approval store: %w", err)
	}
	submitter := submit.New(approvals, b, auditStore, ks)
	cm := cancelmodify.New(b, auditStore, ks)

	gwPolicy := gateway.DefaultPolicy()
	gwPolicy.PerToolPerMinute = cfg.RateLimit.PerTool
	gwPolicy.PerSessionPerMinute = cfg.RateLimit.PerSession
	gwPolicy.GlobalPerMinute = cfg.RateLimit.Global
	gw := gateway.New(gwPolicy, auditStore)

	c := &Core{
		Config:       cfg,
		Broker:       b,
		Audit:        auditStore,
		KillSwitch:   ks,
		Risk:         riskEngine,
		SimConfig:    simulate.DefaultConfig(),
		Approvals:    approvals,
		Submitter:    submitter,
		CancelModify: cm,
		Gateway:      gw,
		Publisher:    publisher,
	}
	c.registerTools()
	return c, nil
}

// defaultPortfolio seeds the mock broker used in dev/demo mode
// (spec.md §8's worked scenarios all start from $50,000 cash).
func defaultPortfolio() types.Portfolio {
	return types.Portfolio{
		AccountID:  "SIM-001",
		TotalValue: decimal.NewFromInt(50000),
		Cash:       []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(50000)}},
	}
}

// Close releases every owned resource.
func (c *Core) Close() error {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.Approvals != nil {
		if err := c.Approvals.Close(); err != nil {
			return err
		}
	}
	if closer, ok := c.Audit.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
