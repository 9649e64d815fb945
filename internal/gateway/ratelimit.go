package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradegate/internal/breaker"
)

// limiters holds the three token-bucket dimensions named in spec.md
// §4.9.3: per-tool, per-session and global, plus the shared circuit
// breaker that opens after consecutive denials.
type limiters struct {
	mu         sync.Mutex
	perTool    map[string]*rate.Limiter
	perSession map[string]*rate.Limiter
	global     *rate.Limiter

	toolRPM    int
	sessionRPM int
	globalRPM  int

	breaker *breaker.Breaker
}

func newLimiters(p Policy) *limiters {
	cooldown := time.Duration(p.BreakerCooldownSecs) * time.Second
	return &limiters{
		perTool:    make(map[string]*rate.Limiter),
		perSession: make(map[string]*rate.Limiter),
		global:     rate.NewLimiter(perMinute(p.GlobalPerMinute), p.GlobalPerMinute),
		toolRPM:    p.PerToolPerMinute,
		sessionRPM: p.PerSessionPerMinute,
		globalRPM:  p.GlobalPerMinute,
		breaker:    breaker.New(p.BreakerThreshold, cooldown),
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

func (l *limiters) toolLimiter(tool string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perTool[tool]
	if !ok {
		lim = rate.NewLimiter(perMinute(l.toolRPM), l.toolRPM)
		l.perTool[tool] = lim
	}
	return lim
}

func (l *limiters) sessionLimiter(session string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perSession[session]
	if !ok {
		lim = rate.NewLimiter(perMinute(l.sessionRPM), l.sessionRPM)
		l.perSession[session] = lim
	}
	return lim
}

// allow checks the breaker first, then all three dimensions
// non-destructively before committing any of them, mirroring the
// reference _examples/original_source/packages/mcp_security/rate_limiter.py's
// "check every key, only record the call once every check passed"
// sequencing. Reserving with rate.Limiter.ReserveN and cancelling on any
// denial keeps a call blocked by (say) the session limiter from still
// burning a token out of the global bucket.
func (l *limiters) allow(tool, session string) (bool, string) {
	if l.breaker.Open() {
		return false, "circuit breaker open"
	}

	now := time.Now()
	global := l.global.ReserveN(now, 1)
	toolRes := l.toolLimiter(tool).ReserveN(now, 1)
	sessionRes := l.sessionLimiter(session).ReserveN(now, 1)

	allowed := global.OK() && global.Delay() == 0 &&
		toolRes.OK() && toolRes.Delay() == 0 &&
		sessionRes.OK() && sessionRes.Delay() == 0

	if !allowed {
		global.CancelAt(now)
		toolRes.CancelAt(now)
		sessionRes.CancelAt(now)
		l.breaker.RecordFailure()
		return false, "rate limit exceeded"
	}
	l.breaker.RecordSuccess()
	return true, ""
}
