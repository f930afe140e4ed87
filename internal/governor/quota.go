package governor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/util"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// GrantKind is the outcome of a quota reservation attempt.
type GrantKind int

const (
	// GrantOK means the cost was reserved.
	GrantOK GrantKind = iota
	// GrantWait means the budget is spent for today; retry at Grant.RetryAt.
	GrantWait
	// GrantExhausted means the request can never be satisfied under the
	// configured limit.
	GrantExhausted
)

// Grant is the result of TryConsume.
type Grant struct {
	Kind    GrantKind
	RetryAt time.Time
}

// QuotaTracker enforces the daily API unit budget. Reservation and commit are
// the same critical section; refunds are separate critical sections. At the
// reset boundary the tracker atomically zeroes usage and advances resetAt by
// one day.
type QuotaTracker struct {
	used    int
	limit   int
	resetAt time.Time
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// NewQuotaTracker creates a tracker with the given daily limit. The reset
// boundary is midnight in loc (UTC when nil).
func NewQuotaTracker(limit int, loc *time.Location, logger *zap.Logger) *QuotaTracker {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now()
	return &QuotaTracker{
		limit:   limit,
		loc:     loc,
		resetAt: util.NextDailyReset(now, loc),
		logger:  logger,
		now:     time.Now,
	}
}

// rollover resets usage when the boundary has passed. Caller holds the lock.
func (qt *QuotaTracker) rollover() {
	now := qt.now()
	if now.After(qt.resetAt) {
		qt.used = 0
		qt.resetAt = util.NextDailyReset(now, qt.loc)
		qt.logger.Info("API quota reset",
			zap.Time("next_reset", qt.resetAt))
	}
}

// TryConsume reserves cost units. GrantWait carries the reset time; the
// caller decides whether to block until then or surface QUOTA_EXCEEDED.
func (qt *QuotaTracker) TryConsume(cost int) Grant {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	qt.rollover()

	if cost > qt.limit {
		return Grant{Kind: GrantExhausted}
	}
	if qt.used+cost > qt.limit {
		return Grant{Kind: GrantWait, RetryAt: qt.resetAt}
	}

	qt.used += cost
	remaining := qt.limit - qt.used
	qt.logger.Debug("quota consumed",
		zap.Int("cost", cost),
		zap.Int("used", qt.used),
		zap.Int("remaining", remaining))
	return Grant{Kind: GrantOK}
}

// Refund returns cost units reserved for a call that never reached the
// origin (pre-I/O cancellation or limiter denial).
func (qt *QuotaTracker) Refund(cost int) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	qt.used -= cost
	if qt.used < 0 {
		qt.used = 0
	}
}

// Used returns the units consumed in the current window.
func (qt *QuotaTracker) Used() int {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	qt.rollover()
	return qt.used
}

// Remaining returns the units left in the current window.
func (qt *QuotaTracker) Remaining() int {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	qt.rollover()
	return qt.limit - qt.used
}

// ResetAt returns the next reset boundary.
func (qt *QuotaTracker) ResetAt() time.Time {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	qt.rollover()
	return qt.resetAt
}

// WaitAvailable blocks until cost units are reserved, the context ends, or
// the grant is exhausted. A GrantWait is honored by sleeping until the reset
// boundary; a context deadline before the boundary surfaces QUOTA_EXCEEDED.
func (qt *QuotaTracker) WaitAvailable(ctx context.Context, cost int) error {
	for {
		grant := qt.TryConsume(cost)
		switch grant.Kind {
		case GrantOK:
			return nil
		case GrantExhausted:
			return qt.exceededErr(cost)
		}

		// GrantWait: the budget refills at grant.RetryAt.
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(grant.RetryAt) {
			return qt.exceededErr(cost)
		}

		timer := time.NewTimer(time.Until(grant.RetryAt) + time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			if ctx.Err() == context.DeadlineExceeded {
				return qt.exceededErr(cost)
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (qt *QuotaTracker) exceededErr(cost int) error {
	qt.mu.Lock()
	cause := &apperrors.QuotaExceededError{
		Used:      qt.used,
		Limit:     qt.limit,
		Requested: cost,
		ResetAt:   qt.resetAt.Format(time.RFC3339),
	}
	qt.mu.Unlock()
	return apperrors.Wrap(domain.CategoryQuotaExceeded, "daily API quota exhausted", cause).
		WithUserMessage("YouTube API daily quota exhausted; retry after " + cause.ResetAt)
}
