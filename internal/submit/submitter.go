// Package submit implements the Order Submitter (spec.md §4.7): the
// token-validated bridge from an APPROVAL_GRANTED proposal to the
// broker, and the poll loop that carries a submitted order to a
// terminal state. Grounded on the teacher's pkg/sim polling idiom
// (repeated GetOrderStatus calls with a bounded retry count) and the
// broker package's TransactionStream for an early-wake signal.
package submit

import (
	"context"
	"time"

	"github.com/rustyeddy/tradegate/internal/approval"
	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/types"
)

// killSwitchChecker mirrors approval's narrow kill-switch interface.
type killSwitchChecker interface {
	IsEnabled(ctx context.Context) (bool, string)
}

// Submitter wires together the Approval Service, the Broker Adapter and
// the Audit Log for the submit-and-poll contract of spec.md §4.7.
type Submitter struct {
	approvals *approval.Service
	broker    broker.Broker
	audit     audit.Store
	killSw    killSwitchChecker
	now       func() time.Time
}

func New(approvals *approval.Service, b broker.Broker, store audit.Store, ks killSwitchChecker) *Submitter {
	return &Submitter{approvals: approvals, broker: b, audit: store, killSw: ks, now: time.Now}
}

func (s *Submitter) emit(ctx context.Context, correlationID string, kind audit.Kind, payload any) {
	if s.audit == nil {
		return
	}
	ev, err := audit.NewEvent(correlationID, kind, "system", payload)
	if err == nil {
		_ = s.audit.Append(ctx, ev)
	}
}

// Submit implements spec.md §4.7's sequence: (1) kill switch, (2) load
// proposal in APPROVAL_GRANTED, (3) validate token, (4) consume token,
// (5) call broker.SubmitOrder, (6) transition to SUBMITTED, (7) emit
// ORDER_SUBMITTED. A broker failure after token consumption leaves the
// proposal in APPROVAL_GRANTED (the token is burned) and is surfaced as
// a distinct ORDER_SUBMISSION_FAILED so the caller knows the token
// cannot be retried (spec.md §7).
func (s *Submitter) Submit(ctx context.Context, proposalID, tokenID string) (types.OpenOrder, error) {
	if s.killSw != nil {
		if enabled, reason := s.killSw.IsEnabled(ctx); enabled {
			return types.OpenOrder{}, errs.Policyf("KILL_SWITCH_ACTIVE", []string{"KS"}, "kill switch is active, refusing submit_order: %s", reason)
		}
	}

	p, err := s.approvals.Get(proposalID)
	if err != nil {
		return types.OpenOrder{}, err
	}
	if p.State != types.ApprovalGranted {
		return types.OpenOrder{}, errs.Statef("INVALID_TRANSITION", "proposal %s is in state %s, expected APPROVAL_GRANTED", proposalID, p.State)
	}

	now := s.now()
	if !s.approvals.ValidateToken(tokenID, p.IntentHash, now) {
		return types.OpenOrder{}, errs.Concurrencyf("TOKEN_INVALID", "token %s is not valid for proposal %s", tokenID, proposalID)
	}
	if _, err := s.approvals.ConsumeToken(ctx, tokenID, now); err != nil {
		return types.OpenOrder{}, err
	}

	order, err := s.broker.SubmitOrder(ctx, p.Intent, tokenID)
	if err != nil {
		s.emit(ctx, p.CorrelationID, audit.OrderSubmissionFailed, map[string]string{
			"proposal_id": proposalID, "token_id": tokenID, "error": err.Error(),
		})
		return types.OpenOrder{}, errs.Wrap(errs.Internal, "ORDER_SUBMISSION_FAILED", "broker rejected submission after token consumption", err)
	}

	if _, err := s.approvals.MarkSubmitted(ctx, proposalID, order.BrokerOrderID); err != nil {
		return types.OpenOrder{}, err
	}
	return order, nil
}

// PollResult reports the outcome of a bounded poll loop.
type PollResult struct {
	Order    types.OpenOrder
	Terminal bool
}

// Poll repeats broker.GetOrderStatus until the order reaches a terminal
// broker status or maxPolls is exhausted, sleeping interval between
// attempts (spec.md §4.7 "Polling"). wake, if non-nil, is an early-wake
// channel (broker.TransactionStream.Events()) that short-circuits the
// sleep; it never replaces the poll as the source of truth.
func (s *Submitter) Poll(ctx context.Context, proposalID, brokerOrderID string, maxPolls int, interval time.Duration, wake <-chan broker.TransactionPush) (PollResult, error) {
	var last types.OpenOrder
	for i := 0; i < maxPolls; i++ {
		order, err := s.broker.GetOrderStatus(ctx, brokerOrderID)
		if err != nil {
			return PollResult{}, errs.Resourcef(true, "POLL_FAILED", "get_order_status: %v", err)
		}
		last = order

		switch order.Status {
		case types.BrokerFilled:
			p, err := s.approvals.MarkTerminal(ctx, proposalID, types.Filled)
			if err != nil {
				return PollResult{}, err
			}
			_ = p
			return PollResult{Order: order, Terminal: true}, nil
		case types.BrokerCancelled:
			if _, err := s.approvals.MarkTerminal(ctx, proposalID, types.Cancelled); err != nil {
				return PollResult{}, err
			}
			return PollResult{Order: order, Terminal: true}, nil
		case types.BrokerRejected:
			if _, err := s.approvals.MarkTerminal(ctx, proposalID, types.Rejected); err != nil {
				return PollResult{}, err
			}
			return PollResult{Order: order, Terminal: true}, nil
		}

		if i == maxPolls-1 {
			break
		}
		s.sleepOrWake(ctx, interval, wake)
	}

	s.emit(ctx, "", audit.OperationCancelled, map[string]string{
		"proposal_id": proposalID, "reason": "poll exhausted without terminal status",
	})
	return PollResult{Order: last, Terminal: false}, nil
}

func (s *Submitter) sleepOrWake(ctx context.Context, interval time.Duration, wake <-chan broker.TransactionPush) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}
