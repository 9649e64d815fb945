package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/approval"
	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/types"
)

type fakeBroker struct {
	broker.Broker
	submitErr    error
	orderID      string
	statuses     []types.OrderStatus
	statusCalls  int
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, intent types.OrderIntent, tokenID string) (types.OpenOrder, error) {
	if f.submitErr != nil {
		return types.OpenOrder{}, f.submitErr
	}
	return types.OpenOrder{BrokerOrderID: f.orderID, Status: types.BrokerNew}, nil
}

func (f *fakeBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	status := f.statuses[f.statusCalls]
	if f.statusCalls < len(f.statuses)-1 {
		f.statusCalls++
	}
	return types.OpenOrder{BrokerOrderID: brokerOrderID, Status: status}, nil
}

type noKS struct{ enabled bool }

func (n noKS) IsEnabled(ctx context.Context) (bool, string) { return n.enabled, "halted" }

func testIntent() types.OrderIntent {
	return types.OrderIntent{
		AccountID:   "acct-1",
		Instrument:  types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK, Exchange: "NASDAQ", Currency: "USD"},
		Side:        types.Buy,
		OrderType:   types.OrderMKT,
		Quantity:    decimal.NewFromInt(10),
		TimeInForce: types.TIFDay,
		Reason:      "Portfolio rebalance to target allocation",
	}
}

func newTestApprovals(t *testing.T, ks noKS) *approval.Service {
	t.Helper()
	svc, err := approval.New(":memory:", nil, ks, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func approvedProposal(t *testing.T, approvals *approval.Service) (approval.Proposal, approval.Token) {
	t.Helper()
	p, err := approvals.Create(context.Background(), "corr-1", testIntent(), types.SimulationResult{Status: types.SimSuccess}, types.RiskDecision{Decision: types.Approve})
	require.NoError(t, err)
	_, _, err = approvals.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	p, tok, err := approvals.Grant(context.Background(), p.ProposalID, "ok", "alice")
	require.NoError(t, err)
	return p, tok
}

func TestSubmitHappyPath(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	fb := &fakeBroker{orderID: "MOCK-1"}
	sub := New(approvals, fb, nil, noKS{})

	order, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "MOCK-1", order.BrokerOrderID)

	got, err := approvals.Get(p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, types.Submitted, got.State)
}

func TestSubmitRefusesWhenKillSwitchActive(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	sub := New(approvals, &fakeBroker{orderID: "MOCK-1"}, nil, noKS{enabled: true})
	_, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	assert.Error(t, err)
}

func TestSubmitTokenReplayIsRejected(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	fb := &fakeBroker{orderID: "MOCK-1"}
	sub := New(approvals, fb, nil, noKS{})

	_, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	require.NoError(t, err)

	_, err = sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	assert.Error(t, err, "spec.md scenario 3: second submit(P, T) must fail")
}

func TestSubmitBrokerFailureAfterConsumptionIsSubmissionFailed(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	fb := &fakeBroker{submitErr: errors.New("connection reset")}
	sub := New(approvals, fb, nil, noKS{})

	_, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	require.Error(t, err)

	got, gerr := approvals.Get(p.ProposalID)
	require.NoError(t, gerr)
	assert.Equal(t, types.ApprovalGranted, got.State, "proposal remains APPROVAL_GRANTED; the token is burned, requiring a new proposal")

	assert.False(t, approvals.ValidateToken(tok.TokenID, p.IntentHash, time.Now()), "consumed token must not validate again")
}

func TestPollReachesFilledTerminalState(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	fb := &fakeBroker{orderID: "MOCK-1", statuses: []types.OrderStatus{types.BrokerNew, types.BrokerNew, types.BrokerFilled}}
	sub := New(approvals, fb, nil, noKS{})

	_, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	require.NoError(t, err)

	result, err := sub.Poll(context.Background(), p.ProposalID, "MOCK-1", 5, time.Millisecond, nil)
	require.NoError(t, err)
	assert.True(t, result.Terminal)
	assert.Equal(t, types.BrokerFilled, result.Order.Status)

	got, err := approvals.Get(p.ProposalID)
	require.NoError(t, err)
	assert.True(t, got.State.IsTerminal())
}

func TestPollExhaustsWithoutTerminalStatus(t *testing.T) {
	t.Parallel()
	approvals := newTestApprovals(t, noKS{})
	p, tok := approvedProposal(t, approvals)

	fb := &fakeBroker{orderID: "MOCK-1", statuses: []types.OrderStatus{types.BrokerNew}}
	sub := New(approvals, fb, nil, noKS{})

	_, err := sub.Submit(context.Background(), p.ProposalID, tok.TokenID)
	require.NoError(t, err)

	result, err := sub.Poll(context.Background(), p.ProposalID, "MOCK-1", 3, time.Millisecond, nil)
	require.NoError(t, err)
	assert.False(t, result.Terminal)

	got, err := approvals.Get(p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, types.Submitted, got.State, "proposal stays SUBMITTED when polling exhausts")
}
