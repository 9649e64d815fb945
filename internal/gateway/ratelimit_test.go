package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAllowDoesNotConsumeOtherDimensionsOnDenial proves the fix for the
// destructive short-circuit: a call denied by the session limiter must
// not have already burned a token out of the global bucket, matching
// the check-all-then-commit sequencing of the reference rate limiter.
func TestAllowDoesNotConsumeOtherDimensionsOnDenial(t *testing.T) {
	t.Parallel()
	l := newLimiters(Policy{
		PerToolPerMinute:    1000,
		PerSessionPerMinute: 1,
		GlobalPerMinute:     1000,
		BreakerThreshold:    1000,
		BreakerCooldownSecs: 30,
	})

	ok, _ := l.allow("market_snapshot", "sess-1")
	require.True(t, ok, "first call in the session must be allowed")

	before := l.global.Tokens()

	ok, reason := l.allow("market_snapshot", "sess-1")
	assert.False(t, ok, "second call in the same minute must be denied by the session limiter")
	assert.Equal(t, "rate limit exceeded", reason)

	after := l.global.Tokens()
	assert.InDelta(t, before, after, 0.01, "a denial from the session dimension must not consume a global token")
}
