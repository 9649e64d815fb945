package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/types"
)

// healthResponse reports the three components spec.md §6 names.
type healthResponse struct {
	Status         string `json:"status"`
	BrokerConnected bool  `json:"broker_connected"`
	KillSwitchOn   bool   `json:"kill_switch_enabled"`
	PendingApprovals int  `json:"pending_approvals"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	enabled, _ := s.core.KillSwitch.IsEnabled(r.Context())
	resp := healthResponse{
		Status:           "ok",
		BrokerConnected:  s.core.Broker.Connected(),
		KillSwitchOn:     enabled,
		PendingApprovals: len(s.core.Approvals.Pending(0)),
	}
	if !resp.BrokerConnected {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeError(w, r, errs.Validationf("MISSING_ACCOUNT_ID", "account_id is required"))
		return
	}
	p, err := s.core.Broker.GetPortfolio(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeError(w, r, errs.Validationf("MISSING_ACCOUNT_ID", "account_id is required"))
		return
	}
	positions, err := s.core.Broker.GetPositions(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("instrument")
	if symbol == "" {
		s.writeError(w, r, errs.Validationf("MISSING_INSTRUMENT", "instrument is required"))
		return
	}
	snap, err := s.core.Broker.GetMarketSnapshot(r.Context(), types.Instrument{Symbol: symbol})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMarketBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("instrument")
	if symbol == "" {
		s.writeError(w, r, errs.Validationf("MISSING_INSTRUMENT", "instrument is required"))
		return
	}
	tf, err := parseTimeframe(q.Get("timeframe"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, errs.Validationf("INVALID_LIMIT", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	bars, err := s.core.Broker.GetMarketBars(r.Context(), types.Instrument{Symbol: symbol}, tf, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bars)
}

func (s *Server) handleInstrumentSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := broker.SearchFilters{
		Type:     types.InstrumentType(q.Get("type")),
		Exchange: q.Get("exchange"),
		Currency: q.Get("currency"),
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filters.Limit = n
		}
	}
	candidates, err := s.core.Broker.InstrumentSearch(r.Context(), q.Get("q"), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

// featureFlagsResponse mirrors config.SafetyConfig's operator-facing
// toggles (spec.md §6 "current flag set").
type featureFlagsResponse struct {
	ReadOnlyMode      bool   `json:"readonly_mode"`
	KillSwitchEnabled bool   `json:"kill_switch_enabled"`
	AutoApproval      bool   `json:"auto_approval"`
	StrictValidation  bool   `json:"strict_validation"`
	Env               string `json:"env"`
}

func (s *Server) handleFeatureFlags(w http.ResponseWriter, r *http.Request) {
	cfg := s.core.Config
	enabled, _ := s.core.KillSwitch.IsEnabled(r.Context())
	s.writeJSON(w, http.StatusOK, featureFlagsResponse{
		ReadOnlyMode:      cfg.Safety.ReadOnlyMode,
		KillSwitchEnabled: enabled,
		AutoApproval:      cfg.Safety.AutoApproval,
		StrictValidation:  cfg.Safety.StrictValidation,
		Env:               string(cfg.Env),
	})
}

func parseTimeframe(s string) (broker.Timeframe, error) {
	switch s {
	case "M1":
		return broker.Minute1, nil
	case "M5":
		return broker.Minute5, nil
	case "H1":
		return broker.Hour1, nil
	case "D1":
		return broker.Day1, nil
	default:
		return "", errs.Validationf("INVALID_TIMEFRAME", "unknown timeframe %q, expected one of M1, M5, H1, D1", s)
	}
}
