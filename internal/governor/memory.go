package governor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// MemoryGuard pauses admission of new work while the process is above its
// soft memory ceiling. A background goroutine samples heap usage; Admit
// returns immediately below the ceiling, blocks above it, and gives up with a
// TIMEOUT-category memory-pressure error after the admission timeout.
type MemoryGuard struct {
	ceilingBytes uint64
	current      atomic.Uint64
	sample       func() uint64
	admitTimeout time.Duration
	logger       *zap.Logger
	stopCh       chan struct{}
}

// NewMemoryGuard creates a guard with the given soft ceiling in megabytes.
func NewMemoryGuard(ceilingMB int, logger *zap.Logger) *MemoryGuard {
	mg := &MemoryGuard{
		ceilingBytes: uint64(ceilingMB) * 1024 * 1024,
		sample:       sampleHeap,
		admitTimeout: constants.MemoryGuardConfig.AdmitTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	mg.current.Store(mg.sample())
	return mg
}

func sampleHeap() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Start launches the sampling loop. Stop releases it.
func (mg *MemoryGuard) Start() {
	go func() {
		ticker := time.NewTicker(constants.MemoryGuardConfig.SamplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-mg.stopCh:
				return
			case <-ticker.C:
				mg.current.Store(mg.sample())
			}
		}
	}()
}

// Stop terminates the sampling loop.
func (mg *MemoryGuard) Stop() {
	close(mg.stopCh)
}

// UnderPressure reports whether the last sample exceeded the ceiling.
func (mg *MemoryGuard) UnderPressure() bool {
	return mg.current.Load() >= mg.ceilingBytes
}

// Admit returns nil once memory is below the soft ceiling. Above it, Admit
// blocks until pressure clears, the admission timeout elapses, or ctx ends.
func (mg *MemoryGuard) Admit(ctx context.Context) error {
	if !mg.UnderPressure() {
		return nil
	}

	mg.logger.Warn("memory pressure: pausing admission",
		zap.Uint64("heap_bytes", mg.current.Load()),
		zap.Uint64("ceiling_bytes", mg.ceilingBytes))

	deadline := time.NewTimer(mg.admitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(constants.MemoryGuardConfig.SamplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			// Surfaces as a retryable timeout; the unit backs off and the
			// guard keeps sampling.
			return apperrors.New(domain.CategoryTimeout, "memory pressure admission timeout").
				WithUserMessage("process memory stayed above the configured ceiling")
		case <-ticker.C:
			if !mg.UnderPressure() {
				return nil
			}
		}
	}
}
