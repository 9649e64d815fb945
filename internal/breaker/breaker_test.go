package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := New(2, time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.True(t, b.Allow())
	assert.False(t, b.Open())

	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.True(t, b.Open())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := New(1, 10*time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	assert.True(t, b.Open())

	now = now.Add(11 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Open())
}

func TestBreakerRecordSuccessResetsCounter(t *testing.T) {
	t.Parallel()

	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow(), "two failures after a reset should not trip a threshold of three")
}
