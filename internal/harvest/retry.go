package harvest

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

// Policy bounds the retry loop for one error category.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PolicyFor returns the default policy of a category. RATE_LIMITED leaves
// BaseDelay zero; the engine substitutes the limiter's cooldown advice.
func PolicyFor(category domain.ErrorCategory) Policy {
	switch category {
	case domain.CategoryNetwork, domain.CategoryTimeout:
		return Policy{
			MaxAttempts: constants.RetryConfig.MaxAttempts,
			BaseDelay:   constants.RetryConfig.BaseDelay,
			MaxDelay:    constants.RetryConfig.MaxDelay,
		}
	case domain.CategoryRateLimited:
		return Policy{
			MaxAttempts: constants.RetryConfig.RateLimitMaxAttempts,
			MaxDelay:    constants.RetryConfig.MaxDelay,
		}
	case domain.CategoryUnknown:
		// Retry once, then fail.
		return Policy{
			MaxAttempts: 2,
			BaseDelay:   constants.RetryConfig.BaseDelay,
			MaxDelay:    constants.RetryConfig.MaxDelay,
		}
	default:
		return Policy{MaxAttempts: 1}
	}
}

// CooldownAdviser supplies a suggested delay (seconds) after a RATE_LIMITED
// failure. Satisfied by governor.AdaptiveRateLimiter.
type CooldownAdviser interface {
	CooldownAdvice() float64
}

// Engine runs operations under category-driven backoff. Quota exhaustion is
// not retried here; callers block on the quota tracker before the attempt, so
// a surfaced QUOTA_EXCEEDED is already past its single long wait.
type Engine struct {
	adviser CooldownAdviser
	logger  *zap.Logger
	rand    func() float64
}

// NewEngine creates a retry engine. adviser may be nil.
func NewEngine(adviser CooldownAdviser, logger *zap.Logger) *Engine {
	return &Engine{
		adviser: adviser,
		logger:  logger,
		rand:    rand.Float64,
	}
}

// WithJitterFunc replaces the jitter source. Deterministic tests pass a
// constant.
func (e *Engine) WithJitterFunc(f func() float64) *Engine {
	e.rand = f
	return e
}

// Run executes op until it succeeds, fails with a non-retryable
// classification, or spends the attempt budget of its category. It returns
// the number of attempts made and the final error. Cancellation aborts
// between attempts.
func (e *Engine) Run(ctx context.Context, op func(context.Context) error) (int, error) {
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		cls := Classify(err)
		policy := PolicyFor(cls.Category)
		if !cls.Retryable || attempt >= policy.MaxAttempts {
			return attempt, err
		}

		delay := e.backoff(policy, cls.Category, attempt)
		e.logger.Debug("retrying after failure",
			zap.String("category", cls.Category.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("backoff", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff computes full-jitter exponential backoff:
// min(maxDelay, base * 2^(attempt-1)) * random(0,1).
func (e *Engine) backoff(policy Policy, category domain.ErrorCategory, attempt int) time.Duration {
	base := policy.BaseDelay
	if category == domain.CategoryRateLimited {
		if e.adviser != nil {
			base = time.Duration(e.adviser.CooldownAdvice() * float64(time.Second))
		}
		if base <= 0 {
			base = constants.RetryConfig.BaseDelay
		}
	}

	delay := base << uint(attempt-1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return time.Duration(float64(delay) * e.rand())
}
