package governor

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

// AdaptiveRateLimiter is a token bucket whose refill rate reacts to the
// observed error ratio over a rolling window of reported operations.
//
// The bucket itself is a rate.Limiter; Acquire suspends FIFO-fair until
// tokens are available or the context ends. After every operation callers
// report the outcome; when the error ratio over the last window exceeds the
// high threshold (or the last error was RATE_LIMITED) the rate is halved,
// and a full clean window grows it back. At most one adjustment happens per
// window.
type AdaptiveRateLimiter struct {
	limiter *rate.Limiter
	current float64
	min     float64
	max     float64

	window    []bool // true = failed
	windowPos int
	windowLen int
	sinceAdj  int
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewAdaptiveRateLimiter creates a limiter with the given settings. Rates are
// tokens per second.
func NewAdaptiveRateLimiter(settings domain.RateLimitSettings, logger *zap.Logger) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(settings.Base), settings.Burst),
		current: settings.Base,
		min:     settings.Min,
		max:     settings.Max,
		window:  make([]bool, constants.LimiterConfig.Window),
		// Allow the very first adjustment without waiting for a full window.
		sinceAdj: constants.LimiterConfig.Window,
		logger:   logger,
	}
}

// Acquire blocks until n tokens are available or ctx is cancelled.
func (rl *AdaptiveRateLimiter) Acquire(ctx context.Context, n int) error {
	return rl.limiter.WaitN(ctx, n)
}

// Report records the outcome of one operation and adjusts the rate when the
// rolling window warrants it.
func (rl *AdaptiveRateLimiter) Report(ok bool, category domain.ErrorCategory) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.window[rl.windowPos] = !ok
	rl.windowPos = (rl.windowPos + 1) % len(rl.window)
	if rl.windowLen < len(rl.window) {
		rl.windowLen++
	}
	rl.sinceAdj++

	// No oscillation faster than once per window.
	if rl.sinceAdj < len(rl.window) {
		return
	}

	failures := 0
	for i := 0; i < rl.windowLen; i++ {
		if rl.window[i] {
			failures++
		}
	}
	ratio := float64(failures) / float64(rl.windowLen)

	switch {
	case (!ok && category == domain.CategoryRateLimited) || ratio > constants.LimiterConfig.HighErrorRatio:
		rl.setRate(rl.current / 2)
	case rl.windowLen == len(rl.window) && ratio < constants.LimiterConfig.LowErrorRatio:
		rl.setRate(rl.current * constants.LimiterConfig.GrowthFactor)
	}
}

// setRate clamps and applies a new rate. Caller holds the lock.
func (rl *AdaptiveRateLimiter) setRate(r float64) {
	if r < rl.min {
		r = rl.min
	}
	if r > rl.max {
		r = rl.max
	}
	if r == rl.current {
		return
	}
	rl.logger.Info("rate limiter adjusted",
		zap.Float64("from_per_sec", rl.current),
		zap.Float64("to_per_sec", r))
	rl.current = r
	rl.limiter.SetLimit(rate.Limit(r))
	rl.sinceAdj = 0
}

// Rate returns the current refill rate in tokens per second.
func (rl *AdaptiveRateLimiter) Rate() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.current
}

// CooldownAdvice returns a suggested wait before retrying a RATE_LIMITED
// operation: the time one token takes to refill at the current rate.
func (rl *AdaptiveRateLimiter) CooldownAdvice() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.current <= 0 {
		return 1
	}
	return 1 / rl.current
}
