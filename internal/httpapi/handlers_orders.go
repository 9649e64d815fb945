package httpapi

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/risk"
	"github.com/rustyeddy/tradegate/internal/simulate"
	"github.com/rustyeddy/tradegate/internal/types"

	"github.com/go-chi/chi/v5"
)

func (s *Server) riskContext(r *http.Request) risk.EvalContext {
	enabled, reason := s.core.KillSwitch.IsEnabled(r.Context())
	return risk.EvalContext{KillSwitchEnabled: enabled, KillSwitchReason: reason}
}

func (s *Server) emit(r *http.Request, kind audit.Kind, payload any) {
	ev, err := audit.NewEvent(CorrelationID(r.Context()), kind, "http", payload)
	if err == nil {
		_ = s.core.Audit.Append(r.Context(), ev)
	}
}

// POST /api/v1/propose: validate an OrderIntent and emit ORDER_PROPOSED,
// per spec.md §6. It does not construct an approval.Proposal — that only
// happens once a simulation and risk decision exist to attach to it.
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var intent types.OrderIntent
	if err := decodeJSON(r, &intent); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent = intent.Normalize()
	if err := intent.Validate(); err != nil {
		s.writeError(w, r, errs.Validationf("INVALID_INTENT", "%v", err))
		return
	}
	s.emit(r, audit.OrderProposed, intent)
	s.writeJSON(w, http.StatusOK, map[string]any{"intent": intent, "state": types.Proposed})
}

type simulateRequest struct {
	Intent      types.OrderIntent `json:"intent"`
	MarketPrice decimal.Decimal   `json:"market_price"`
}

// POST /api/v1/simulate: {intent, market_price} -> SimulationResult
// (spec.md §6). Unlike the simulate_order tool, which always pulls a
// live snapshot, this endpoint takes the caller's market_price directly
// so a client can explore hypothetical prices.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent := req.Intent.Normalize()
	if err := intent.Validate(); err != nil {
		s.writeError(w, r, errs.Validationf("INVALID_INTENT", "%v", err))
		return
	}
	portfolio, err := s.core.Broker.GetPortfolio(r.Context(), intent.AccountID)
	if err != nil {
		s.writeError(w, r, errs.Internalf("PORTFOLIO_UNAVAILABLE", err, "fetch portfolio for %s", intent.AccountID))
		return
	}
	snapshot := &types.MarketSnapshot{
		Instrument: intent.Instrument,
		Bid:        req.MarketPrice,
		Ask:        req.MarketPrice,
		Last:       req.MarketPrice,
	}
	result := simulate.Simulate(portfolio, snapshot, intent, s.core.SimConfig)
	s.emit(r, audit.OrderSimulated, map[string]any{"intent": intent, "result": result})
	s.writeJSON(w, http.StatusOK, result)
}

type riskEvaluateRequest struct {
	Intent         types.OrderIntent       `json:"intent"`
	Simulation     types.SimulationResult  `json:"simulation"`
	PortfolioValue decimal.Decimal         `json:"portfolio_value"`
}

// POST /api/v1/risk/evaluate: {intent, simulation, portfolio_value} ->
// RiskDecision (spec.md §6). portfolio_value stands in for a full
// portfolio fetch since the caller already has a simulation in hand and
// only the aggregate exposure figure feeds R1/R2/R11.
func (s *Server) handleRiskEvaluate(w http.ResponseWriter, r *http.Request) {
	var req riskEvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent := req.Intent.Normalize()
	if err := intent.Validate(); err != nil {
		s.writeError(w, r, errs.Validationf("INVALID_INTENT", "%v", err))
		return
	}
	portfolio := types.Portfolio{AccountID: intent.AccountID, TotalValue: req.PortfolioValue}
	decision := s.core.Risk.Evaluate(intent, portfolio, req.Simulation, s.riskContext(r))
	s.emit(r, audit.RiskGateEvaluated, map[string]any{"intent": intent, "decision": decision})
	s.writeJSON(w, http.StatusOK, decision)
}

type proposalsCreateRequest struct {
	Intent       types.OrderIntent      `json:"intent"`
	Simulation   types.SimulationResult `json:"simulation"`
	RiskDecision types.RiskDecision     `json:"risk_decision"`
}

// POST /api/v1/proposals/create (spec.md §6): stores a proposal, rejecting
// if risk_decision is REJECT.
func (s *Server) handleProposalsCreate(w http.ResponseWriter, r *http.Request) {
	var req proposalsCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent := req.Intent.Normalize()
	if err := intent.Validate(); err != nil {
		s.writeError(w, r, errs.Validationf("INVALID_INTENT", "%v", err))
		return
	}
	proposal, err := s.core.Approvals.Create(r.Context(), CorrelationID(r.Context()), intent, req.Simulation, req.RiskDecision)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, proposal)
}

type proposalIDRequest struct {
	ProposalID string `json:"proposal_id"`
}

// POST /api/v1/approval/request: RISK_APPROVED -> APPROVAL_REQUESTED,
// or straight to APPROVAL_GRANTED when auto-approval fires.
func (s *Server) handleApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	proposal, token, err := s.core.Approvals.Request(r.Context(), req.ProposalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"proposal": proposal}
	if token != nil {
		resp["token_id"] = token.TokenID
		resp["expires_at"] = token.ExpiresAt
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type approvalGrantRequest struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

// POST /api/v1/approval/grant: APPROVAL_REQUESTED -> APPROVAL_GRANTED;
// returns token_id and expires_at (spec.md §6).
func (s *Server) handleApprovalGrant(w http.ResponseWriter, r *http.Request) {
	var req approvalGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	proposal, token, err := s.core.Approvals.Grant(r.Context(), req.ProposalID, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"proposal":   proposal,
		"token_id":   token.TokenID,
		"expires_at": token.ExpiresAt,
	})
}

type approvalDenyRequest struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

// POST /api/v1/approval/deny: APPROVAL_REQUESTED -> APPROVAL_DENIED;
// requires reason (spec.md §6).
func (s *Server) handleApprovalDeny(w http.ResponseWriter, r *http.Request) {
	var req approvalDenyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	proposal, err := s.core.Approvals.Deny(r.Context(), req.ProposalID, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleApprovalPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, s.core.Approvals.Pending(limit))
}

type ordersSubmitRequest struct {
	ProposalID string `json:"proposal_id"`
	TokenID    string `json:"token_id"`
}

// POST /api/v1/orders/submit: {proposal_id, token_id} -> SubmitResponse
// (spec.md §6).
func (s *Server) handleOrdersSubmit(w http.ResponseWriter, r *http.Request) {
	var req ordersSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.core.Submitter.Submit(r.Context(), req.ProposalID, req.TokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	brokerOrderID := chi.URLParam(r, "broker_order_id")
	order, err := s.core.Broker.GetOrderStatus(r.Context(), brokerOrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errs.Validationf("INVALID_LIMIT", "limit must be a non-negative integer")
	}
	return n, nil
}
