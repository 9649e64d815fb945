package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/cancelmodify"
)

type cancelRequestRequest struct {
	BrokerOrderID string `json:"broker_order_id"`
	Reason        string `json:"reason"`
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ci, err := s.core.CancelModify.RequestCancel(r.Context(), CorrelationID(r.Context()), req.BrokerOrderID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ci)
}

type requestIDActorRequest struct {
	RequestID string `json:"request_id"`
	Actor     string `json:"actor"`
}

func (s *Server) handleCancelGrant(w http.ResponseWriter, r *http.Request) {
	var req requestIDActorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.core.CancelModify.GrantCancel(r.Context(), req.RequestID, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type requestIDReasonActorRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

func (s *Server) handleCancelDeny(w http.ResponseWriter, r *http.Request) {
	var req requestIDReasonActorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ci, err := s.core.CancelModify.DenyCancel(r.Context(), req.RequestID, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ci)
}

type modifyRequestRequest struct {
	BrokerOrderID string           `json:"broker_order_id"`
	NewQuantity   *decimal.Decimal `json:"new_quantity,omitempty"`
	NewLimitPrice *decimal.Decimal `json:"new_limit_price,omitempty"`
	NewStopPrice  *decimal.Decimal `json:"new_stop_price,omitempty"`
}

func (s *Server) handleModifyRequest(w http.ResponseWriter, r *http.Request) {
	var req modifyRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params := cancelmodify.ModifyParams{
		Quantity:   req.NewQuantity,
		LimitPrice: req.NewLimitPrice,
		StopPrice:  req.NewStopPrice,
	}
	mi, err := s.core.CancelModify.RequestModify(r.Context(), CorrelationID(r.Context()), req.BrokerOrderID, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, mi)
}

func (s *Server) handleModifyGrant(w http.ResponseWriter, r *http.Request) {
	var req requestIDActorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.core.CancelModify.GrantModify(r.Context(), req.RequestID, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleModifyDeny(w http.ResponseWriter, r *http.Request) {
	var req requestIDReasonActorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mi, err := s.core.CancelModify.DenyModify(r.Context(), req.RequestID, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mi)
}

type killSwitchActivateRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var req killSwitchActivateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.core.KillSwitch.Activate(r.Context(), req.Reason, req.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

type killSwitchDeactivateRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	var req killSwitchDeactivateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.core.KillSwitch.Release(r.Context(), req.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	enabled, reason := s.core.KillSwitch.IsEnabled(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled, "reason": reason})
}
