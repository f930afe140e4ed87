package governor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

func testSettings() domain.RateLimitSettings {
	return domain.RateLimitSettings{Base: 4.0, Burst: 8, Min: 0.5, Max: 8.0}
}

func TestLimiterHalvesOnRateLimited(t *testing.T) {
	rl := NewAdaptiveRateLimiter(testSettings(), zap.NewNop())

	rl.Report(false, domain.CategoryRateLimited)
	if got := rl.Rate(); got != 2.0 {
		t.Fatalf("rate after RATE_LIMITED = %v, want 2.0", got)
	}
}

func TestLimiterAdjustsAtMostOncePerWindow(t *testing.T) {
	rl := NewAdaptiveRateLimiter(testSettings(), zap.NewNop())

	rl.Report(false, domain.CategoryRateLimited)
	first := rl.Rate()

	// Further rate-limit errors inside the same window must not halve again.
	for i := 0; i < constants.LimiterConfig.Window-2; i++ {
		rl.Report(false, domain.CategoryRateLimited)
	}
	if got := rl.Rate(); got != first {
		t.Fatalf("rate changed within one window: %v -> %v", first, got)
	}
}

func TestLimiterRecoversAfterCleanWindow(t *testing.T) {
	rl := NewAdaptiveRateLimiter(testSettings(), zap.NewNop())

	rl.Report(false, domain.CategoryRateLimited)
	halved := rl.Rate()

	// Two clean windows: the first flushes the failure out of the ring and
	// grows the rate on its last report, the second grows it again.
	for i := 0; i < 2*constants.LimiterConfig.Window; i++ {
		rl.Report(true, "")
	}
	if got := rl.Rate(); got <= halved {
		t.Fatalf("rate did not recover: %v <= %v", got, halved)
	}
}

func TestLimiterClampsToBounds(t *testing.T) {
	rl := NewAdaptiveRateLimiter(domain.RateLimitSettings{Base: 1.0, Burst: 1, Min: 0.8, Max: 1.1}, zap.NewNop())

	rl.Report(false, domain.CategoryRateLimited)
	if got := rl.Rate(); got != 0.8 {
		t.Fatalf("rate = %v, want clamp to min 0.8", got)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	rl := NewAdaptiveRateLimiter(domain.RateLimitSettings{Base: 0.001, Burst: 1, Min: 0.001, Max: 1}, zap.NewNop())

	// Drain the single burst token.
	if err := rl.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, 1); err == nil {
		t.Fatal("expected context error while bucket is empty")
	}
}
