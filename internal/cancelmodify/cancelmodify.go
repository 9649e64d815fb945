// Package cancelmodify implements the Cancel/Modify Service (spec.md
// §4.8): a two-step-commit mirror of the Approval Service, but acting on
// existing live broker orders instead of proposals. Grounded on
// internal/approval's per-request lock and audit-emission pattern,
// generalized from a proposal store to a request store since cancel and
// modify intents never need a persisted token — the grant itself is the
// authorization to call the broker.
package cancelmodify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/types"
)

// RequestState is the 3-state lifecycle shared by cancel and modify
// requests: REQUESTED -> {GRANTED | DENIED}.
type RequestState string

const (
	Requested RequestState = "REQUESTED"
	Granted   RequestState = "GRANTED"
	Denied    RequestState = "DENIED"
)

// ModifyParams carries the mutable fields a modify may change; a nil
// field means "leave unchanged".
type ModifyParams struct {
	Quantity   *decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
}

// CancelIntent is an immutable request to cancel a live broker order.
type CancelIntent struct {
	RequestID     string
	CorrelationID string
	BrokerOrderID string
	Reason        string
	State         RequestState
	DenyReason    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ModifyIntent is an immutable request to modify a live broker order.
type ModifyIntent struct {
	RequestID     string
	CorrelationID string
	BrokerOrderID string
	NewParams     ModifyParams
	State         RequestState
	DenyReason    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type killSwitchChecker interface {
	IsEnabled(ctx context.Context) (bool, string)
}

// Service owns cancel and modify requests for the process lifetime.
// Requests are not evicted (spec.md is silent on a capacity for this
// store, unlike the Approval Service's explicit 1000-entry cap). A request
// stays REQUESTED until a separate grant or deny call resolves it, and
// every request, resolved or not, stays in memory for the process lifetime.
type Service struct {
	mu       sync.Mutex
	cancels  map[string]CancelIntent
	modifies map[string]ModifyIntent

	broker broker.Broker
	audit  audit.Store
	killSw killSwitchChecker
	now    func() time.Time
}

func New(b broker.Broker, store audit.Store, ks killSwitchChecker) *Service {
	return &Service{
		cancels:  make(map[string]CancelIntent),
		modifies: make(map[string]ModifyIntent),
		broker:   b,
		audit:    store,
		killSw:   ks,
		now:      time.Now,
	}
}

func (s *Service) emit(ctx context.Context, correlationID string, kind audit.Kind, payload any) {
	if s.audit == nil {
		return
	}
	ev, err := audit.NewEvent(correlationID, kind, "system", payload)
	if err == nil {
		_ = s.audit.Append(ctx, ev)
	}
}

// RequestCancel creates a REQUESTED CancelIntent for brokerOrderID.
func (s *Service) RequestCancel(ctx context.Context, correlationID, brokerOrderID, reason string) (CancelIntent, error) {
	now := s.now()
	ci := CancelIntent{
		RequestID:     uuid.NewString(),
		CorrelationID: correlationID,
		BrokerOrderID: brokerOrderID,
		Reason:        reason,
		State:         Requested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mu.Lock()
	s.cancels[ci.RequestID] = ci
	s.mu.Unlock()

	s.emit(ctx, correlationID, audit.CancelRequested, map[string]string{
		"request_id": ci.RequestID, "broker_order_id": brokerOrderID, "reason": reason,
	})
	return ci, nil
}

// GrantCancel resolves a REQUESTED CancelIntent by invoking
// broker.CancelOrder, blocked by the kill switch (spec.md §4.8).
func (s *Service) GrantCancel(ctx context.Context, requestID, actor string) (types.OpenOrder, error) {
	if enabled, reason := s.killSwitchEnabled(ctx); enabled {
		return types.OpenOrder{}, errs.Policyf("KILL_SWITCH_ACTIVE", []string{"KS"}, "kill switch is active, refusing cancel_order: %s", reason)
	}

	s.mu.Lock()
	ci, ok := s.cancels[requestID]
	s.mu.Unlock()
	if !ok {
		return types.OpenOrder{}, errs.Resourcef(false, "CANCEL_REQUEST_NOT_FOUND", "cancel request %s not found", requestID)
	}
	if ci.State != Requested {
		return types.OpenOrder{}, errs.Statef("INVALID_TRANSITION", "cancel request %s is in state %s, expected REQUESTED", requestID, ci.State)
	}

	order, err := s.broker.CancelOrder(ctx, ci.BrokerOrderID)
	if err != nil {
		return types.OpenOrder{}, errs.Internalf("CANCEL_FAILED", err, "broker cancel_order failed")
	}

	ci.State = Granted
	ci.UpdatedAt = s.now()
	s.mu.Lock()
	s.cancels[requestID] = ci
	s.mu.Unlock()

	s.emit(ctx, ci.CorrelationID, audit.CancelGranted, map[string]string{"request_id": requestID, "actor": actor})
	return order, nil
}

// DenyCancel resolves a REQUESTED CancelIntent without contacting the
// broker.
func (s *Service) DenyCancel(ctx context.Context, requestID, reason, actor string) (CancelIntent, error) {
	if reason == "" {
		return CancelIntent{}, errs.Validationf("DENY_REASON_REQUIRED", "denial reason is required")
	}

	s.mu.Lock()
	ci, ok := s.cancels[requestID]
	if !ok {
		s.mu.Unlock()
		return CancelIntent{}, errs.Resourcef(false, "CANCEL_REQUEST_NOT_FOUND", "cancel request %s not found", requestID)
	}
	if ci.State != Requested {
		s.mu.Unlock()
		return CancelIntent{}, errs.Statef("INVALID_TRANSITION", "cancel request %s is in state %s, expected REQUESTED", requestID, ci.State)
	}
	ci.State = Denied
	ci.DenyReason = reason
	ci.UpdatedAt = s.now()
	s.cancels[requestID] = ci
	s.mu.Unlock()

	s.emit(ctx, ci.CorrelationID, audit.CancelDenied, map[string]string{"request_id": requestID, "reason": reason, "actor": actor})
	return ci, nil
}

// RequestModify creates a REQUESTED ModifyIntent for brokerOrderID.
// Applying a modify at the broker requires cancel-then-resubmit for
// adapters (like OANDA) with no native amend call; that mechanics lives
// in GrantModify, not here, so the request itself stays adapter-agnostic.
func (s *Service) RequestModify(ctx context.Context, correlationID, brokerOrderID string, params ModifyParams) (ModifyIntent, error) {
	now := s.now()
	mi := ModifyIntent{
		RequestID:     uuid.NewString(),
		CorrelationID: correlationID,
		BrokerOrderID: brokerOrderID,
		NewParams:     params,
		State:         Requested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mu.Lock()
	s.modifies[mi.RequestID] = mi
	s.mu.Unlock()

	s.emit(ctx, correlationID, audit.ModifyRequested, map[string]string{
		"request_id": mi.RequestID, "broker_order_id": brokerOrderID,
	})
	return mi, nil
}

// GrantModify resolves a REQUESTED ModifyIntent. Since the Broker
// interface (spec.md §4.3) exposes cancel_order and submit_order but no
// native amend, a modify is realized as cancel-then-resubmit; the
// caller is responsible for re-running the propose/simulate/risk/approve
// chain on the replacement intent — GrantModify only performs the
// cancel half and marks the request GRANTED once the original order is
// off the book.
func (s *Service) GrantModify(ctx context.Context, requestID, actor string) (types.OpenOrder, error) {
	if enabled, reason := s.killSwitchEnabled(ctx); enabled {
		return types.OpenOrder{}, errs.Policyf("KILL_SWITCH_ACTIVE", []string{"KS"}, "kill switch is active, refusing modify: %s", reason)
	}

	s.mu.Lock()
	mi, ok := s.modifies[requestID]
	s.mu.Unlock()
	if !ok {
		return types.OpenOrder{}, errs.Resourcef(false, "MODIFY_REQUEST_NOT_FOUND", "modify request %s not found", requestID)
	}
	if mi.State != Requested {
		return types.OpenOrder{}, errs.Statef("INVALID_TRANSITION", "modify request %s is in state %s, expected REQUESTED", requestID, mi.State)
	}

	order, err := s.broker.CancelOrder(ctx, mi.BrokerOrderID)
	if err != nil {
		return types.OpenOrder{}, errs.Internalf("MODIFY_CANCEL_LEG_FAILED", err, "broker cancel_order failed during modify")
	}

	mi.State = Granted
	mi.UpdatedAt = s.now()
	s.mu.Lock()
	s.modifies[requestID] = mi
	s.mu.Unlock()

	s.emit(ctx, mi.CorrelationID, audit.ModifyGranted, map[string]string{"request_id": requestID, "actor": actor})
	return order, nil
}

// DenyModify resolves a REQUESTED ModifyIntent without contacting the
// broker.
func (s *Service) DenyModify(ctx context.Context, requestID, reason, actor string) (ModifyIntent, error) {
	if reason == "" {
		return ModifyIntent{}, errs.Validationf("DENY_REASON_REQUIRED", "denial reason is required")
	}

	s.mu.Lock()
	mi, ok := s.modifies[requestID]
	if !ok {
		s.mu.Unlock()
		return ModifyIntent{}, errs.Resourcef(false, "MODIFY_REQUEST_NOT_FOUND", "modify request %s not found", requestID)
	}
	if mi.State != Requested {
		s.mu.Unlock()
		return ModifyIntent{}, errs.Statef("INVALID_TRANSITION", "modify request %s is in state %s, expected REQUESTED", requestID, mi.State)
	}
	mi.State = Denied
	mi.DenyReason = reason
	mi.UpdatedAt = s.now()
	s.modifies[requestID] = mi
	s.mu.Unlock()

	s.emit(ctx, mi.CorrelationID, audit.ModifyDenied, map[string]string{"request_id": requestID, "reason": reason, "actor": actor})
	return mi, nil
}

func (s *Service) killSwitchEnabled(ctx context.Context) (bool, string) {
	if s.killSw == nil {
		return false, ""
	}
	return s.killSw.IsEnabled(ctx)
}
