package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

func TestQuotaTrackerGrantsUntilLimit(t *testing.T) {
	qt := NewQuotaTracker(10, time.UTC, zap.NewNop())

	for i := 0; i < 10; i++ {
		if g := qt.TryConsume(1); g.Kind != GrantOK {
			t.Fatalf("consume %d: expected GrantOK, got %v", i, g.Kind)
		}
	}
	if got := qt.Used(); got != 10 {
		t.Fatalf("used = %d, want 10", got)
	}

	g := qt.TryConsume(1)
	if g.Kind != GrantWait {
		t.Fatalf("expected GrantWait when over budget, got %v", g.Kind)
	}
	if g.RetryAt.IsZero() {
		t.Fatal("GrantWait must carry a retry time")
	}
}

func TestQuotaTrackerExhaustedWhenCostExceedsLimit(t *testing.T) {
	qt := NewQuotaTracker(50, time.UTC, zap.NewNop())
	if g := qt.TryConsume(100); g.Kind != GrantExhausted {
		t.Fatalf("expected GrantExhausted for cost > limit, got %v", g.Kind)
	}
}

func TestQuotaTrackerRefund(t *testing.T) {
	qt := NewQuotaTracker(5, time.UTC, zap.NewNop())
	qt.TryConsume(5)
	qt.Refund(3)
	if got := qt.Used(); got != 2 {
		t.Fatalf("used after refund = %d, want 2", got)
	}
	qt.Refund(10)
	if got := qt.Used(); got != 0 {
		t.Fatalf("used must not go negative, got %d", got)
	}
}

func TestQuotaTrackerDailyReset(t *testing.T) {
	qt := NewQuotaTracker(10, time.UTC, zap.NewNop())
	qt.TryConsume(10)

	// Move the clock past the boundary.
	qt.mu.Lock()
	reset := qt.resetAt
	qt.mu.Unlock()
	qt.now = func() time.Time { return reset.Add(time.Minute) }

	if g := qt.TryConsume(1); g.Kind != GrantOK {
		t.Fatalf("expected GrantOK after reset, got %v", g.Kind)
	}
	if got := qt.Used(); got != 1 {
		t.Fatalf("used after reset = %d, want 1", got)
	}

	qt.mu.Lock()
	advanced := qt.resetAt
	qt.mu.Unlock()
	if !advanced.After(reset) {
		t.Fatal("resetAt must advance after rollover")
	}
}

func TestWaitAvailableHonorsDeadline(t *testing.T) {
	qt := NewQuotaTracker(1, time.UTC, zap.NewNop())
	qt.TryConsume(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := qt.WaitAvailable(ctx, 1)
	if err == nil {
		t.Fatal("expected error when deadline precedes reset")
	}
	cat, ok := apperrors.CategoryOf(err)
	if !ok || cat != domain.CategoryQuotaExceeded {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v (tagged=%v)", cat, ok)
	}

	var qe *apperrors.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatal("expected QuotaExceededError cause")
	}
}
