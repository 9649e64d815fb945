package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/types"
)

type noKillSwitch struct{ enabled bool }

func (n noKillSwitch) IsEnabled(ctx context.Context) (bool, string) { return n.enabled, "" }

type alwaysAllow struct{}

func (alwaysAllow) Allow(ctx context.Context, intent types.OrderIntent, sim types.SimulationResult) (bool, string) {
	return true, "within auto-approval allowlist"
}

func newTestService(t *testing.T, ks killSwitchChecker, auto AutoApprover) *Service {
	t.Helper()
	svc, err := New(":memory:", nil, ks, auto)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func testIntent(t *testing.T) types.OrderIntent {
	t.Helper()
	limit := decimal.NewFromInt(190)
	return types.OrderIntent{
		AccountID: "acct-1",
		Instrument: types.Instrument{
			Symbol: "AAPL", Type: types.InstrumentSTK, Exchange: "NASDAQ", Currency: "USD",
		},
		Side:        types.Buy,
		OrderType:   types.OrderLMT,
		Quantity:    decimal.NewFromInt(10),
		LimitPrice:  &limit,
		TimeInForce: types.TIFDay,
		Reason:      "Portfolio rebalance to target allocation",
	}
}

func approveDecision() types.RiskDecision {
	return types.RiskDecision{Decision: types.Approve, Reason: "within all limits"}
}

func TestCreateRejectsWhenRiskDenied(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	_, err := svc.Create(context.Background(), "corr-1", testIntent(t), types.SimulationResult{Status: types.SimSuccess},
		types.RiskDecision{Decision: types.Reject, ViolatedRules: []string{"R1"}, Reason: "exceeds max_notional_per_trade"})
	require.Error(t, err)
}

func TestFullApprovalLifecycle(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)

	p, err := svc.Create(context.Background(), "corr-2", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)
	assert.Equal(t, types.RiskApproved, p.State)

	p, tok, err := svc.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Equal(t, types.ApprovalRequested, p.State)

	p, grantedTok, err := svc.Grant(context.Background(), p.ProposalID, "looks good", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalGranted, p.State)
	assert.True(t, svc.ValidateToken(grantedTok.TokenID, p.IntentHash, time.Now()))

	_, err = svc.ConsumeToken(context.Background(), grantedTok.TokenID, time.Now())
	require.NoError(t, err)

	_, err = svc.ConsumeToken(context.Background(), grantedTok.TokenID, time.Now())
	assert.Error(t, err, "second consume must fail (spec.md token replay scenario)")

	p, err = svc.MarkSubmitted(context.Background(), p.ProposalID, "MOCK-1")
	require.NoError(t, err)
	assert.Equal(t, types.Submitted, p.State)

	p, err = svc.MarkTerminal(context.Background(), p.ProposalID, types.Filled)
	require.NoError(t, err)
	assert.True(t, p.State.IsTerminal())
}

func TestDenyRequiresReason(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	p, err := svc.Create(context.Background(), "corr-3", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)
	_, _, err = svc.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)

	_, err = svc.Deny(context.Background(), p.ProposalID, "", "bob")
	assert.Error(t, err)
}

func TestAutoApprovalSkipsRequestedWhenKillSwitchOff(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{enabled: false}, alwaysAllow{})
	p, err := svc.Create(context.Background(), "corr-4", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)

	p, tok, err := svc.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, types.ApprovalGranted, p.State)
}

func TestAutoApprovalBlockedByKillSwitch(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{enabled: true}, alwaysAllow{})
	p, err := svc.Create(context.Background(), "corr-5", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)

	p, tok, err := svc.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	assert.Nil(t, tok, "kill switch active: request must fall back to human APPROVAL_REQUESTED")
	assert.Equal(t, types.ApprovalRequested, p.State)
}

func TestTokenExpiryIsStrictAtBoundary(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	svc.ttl = time.Minute
	p, err := svc.Create(context.Background(), "corr-6", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)
	_, _, err = svc.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	_, tok, err := svc.Grant(context.Background(), p.ProposalID, "ok", "alice")
	require.NoError(t, err)

	assert.False(t, tok.IsValid(tok.ExpiresAt), "token at exactly expires_at must be invalid")
	assert.True(t, tok.IsValid(tok.ExpiresAt.Add(-time.Nanosecond)))
}

func TestPendingReturnsNewestFirst(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		p, err := svc.Create(context.Background(), "corr-7", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
		require.NoError(t, err)
		ids = append(ids, p.ProposalID)
	}

	pending := svc.Pending(0)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[2], pending[0].ProposalID)
	assert.Equal(t, ids[0], pending[2].ProposalID)
}

func TestEvictsOldestTerminalWhenAtCapacity(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	svc.capacity = 1

	p1, err := svc.Create(context.Background(), "corr-8", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)
	_, err = svc.Deny(context.Background(), p1.ProposalID, "n/a", "bob")
	assert.Error(t, err, "RISK_APPROVED is not APPROVAL_REQUESTED, deny should fail here")

	_, _, err = svc.Request(context.Background(), p1.ProposalID)
	require.NoError(t, err)
	_, err = svc.Deny(context.Background(), p1.ProposalID, "policy change", "bob")
	require.NoError(t, err)

	p2, err := svc.Create(context.Background(), "corr-9", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err, "terminal proposal should have been evicted to make room")

	_, err = svc.Get(p1.ProposalID)
	assert.Error(t, err)
	_, err = svc.Get(p2.ProposalID)
	assert.NoError(t, err)
}

func TestNonEvictableStoreRejectsInsert(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, noKillSwitch{}, nil)
	svc.capacity = 1

	_, err := svc.Create(context.Background(), "corr-10", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "corr-11", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	assert.Error(t, err, "the only proposal is RISK_APPROVED (non-terminal) so nothing can be evicted")
}

// TestRecoverReplaysPersistedStateAcrossRestart proves the crash-safety
// claim behind persisting to SQLite at all: a token granted before a
// simulated restart must still validate against a freshly-opened Service
// pointed at the same file (spec.md §4.6, a crash between Grant and
// Submit must not orphan the token).
func TestRecoverReplaysPersistedStateAcrossRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "approvals.db")

	svc1, err := New(path, nil, noKillSwitch{}, nil)
	require.NoError(t, err)

	p, err := svc1.Create(context.Background(), "corr-12", testIntent(t), types.SimulationResult{Status: types.SimSuccess}, approveDecision())
	require.NoError(t, err)
	_, _, err = svc1.Request(context.Background(), p.ProposalID)
	require.NoError(t, err)
	p, tok, err := svc1.Grant(context.Background(), p.ProposalID, "ok", "alice")
	require.NoError(t, err)
	require.NoError(t, svc1.Close())

	svc2, err := New(path, nil, noKillSwitch{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc2.Close() })

	recovered, err := svc2.Get(p.ProposalID)
	require.NoError(t, err, "proposal must survive a restart")
	assert.Equal(t, types.ApprovalGranted, recovered.State)
	assert.True(t, svc2.ValidateToken(tok.TokenID, recovered.IntentHash, time.Now()), "granted token must survive a restart")

	_, err = svc2.ConsumeToken(context.Background(), tok.TokenID, time.Now())
	assert.NoError(t, err, "a recovered token must still be consumable exactly once")
}
