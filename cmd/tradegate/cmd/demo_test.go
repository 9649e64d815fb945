package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These exercise spec.md §8's six worked end-to-end scenarios through
// the exact functions cobra invokes as RunE, without going through the
// command tree itself (none of them read cmd or args).

func TestDemoHappyPathSubmitsOrder(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoHappyPath(nil, nil))
}

func TestDemoRiskRejectBlocksProposal(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoRiskReject(nil, nil))
}

func TestDemoTokenReplayRejectsSecondSubmit(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoTokenReplay(nil, nil))
}

func TestDemoKillSwitchSuppressesAutoApproval(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoKillSwitch(nil, nil))
}

func TestDemoRateLimitBreakerOpensAfterConsecutiveDenials(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoRateLimitBreaker(nil, nil))
}

func TestDemoStaleSnapshotEvaluatesR5AgainstNow(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoStaleSnapshot(nil, nil))
}

func TestDemoAllRunsEveryScenario(t *testing.T) {
	t.Parallel()
	assert.NoError(t, runDemoAll(nil, nil))
}
