package engine

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/event"
	"github.com/kapu/yt-harvester-go/internal/governor"
	"github.com/kapu/yt-harvester-go/internal/harvest"
)

// eventRecorder captures the full event stream for assertions.
type eventRecorder struct {
	events []*domain.Event
	mu     sync.Mutex
}

func (r *eventRecorder) Handle(ev *domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byChannel(channelID string) []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for _, ev := range r.events {
		if ev.ChannelID == channelID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// harness wires an orchestrator over fakes with test-friendly governors.
type harness struct {
	metadata    *fakeMetadata
	transcripts *fakeTranscripts
	sink        *fakeSink
	gov         *Governors
	bus         *event.Bus
	recorder    *eventRecorder
	orch        *Orchestrator
	dir         string
}

func newHarness(t *testing.T, quotaLimit int) *harness {
	t.Helper()
	logger := zap.NewNop()

	metadata := newFakeMetadata()
	transcripts := newFakeTranscripts()
	memSink := newFakeSink()

	gov := &Governors{
		Quota: governor.NewQuotaTracker(quotaLimit, time.UTC, logger),
		Limiter: governor.NewAdaptiveRateLimiter(domain.RateLimitSettings{
			Base: 1000, Burst: 1000, Min: 1, Max: 2000,
		}, logger),
		Memory: governor.NewMemoryGuard(1<<20, logger), // effectively unlimited
	}

	bus := event.NewBus(logger)
	recorder := &eventRecorder{}
	bus.Subscribe(recorder)

	retry := harvest.NewEngine(gov.Limiter, logger).WithJitterFunc(func() float64 { return 0.001 })
	resolver := NewResolver(metadata, gov, retry, nil, logger)

	dir := t.TempDir()
	orch := NewOrchestrator(OrchestratorDeps{
		Metadata:      metadata,
		Transcripts:   transcripts,
		Exporter:      memSink,
		Gov:           gov,
		Bus:           bus,
		Resolver:      resolver,
		Retry:         retry,
		CheckpointDir: dir,
		Logger:        logger,
	})

	t.Cleanup(bus.Close)
	return &harness{
		metadata:    metadata,
		transcripts: transcripts,
		sink:        memSink,
		gov:         gov,
		bus:         bus,
		recorder:    recorder,
		orch:        orch,
		dir:         dir,
	}
}

func baseRequest(inputs ...string) *domain.BatchRequest {
	refs := make([]domain.ChannelRef, 0, len(inputs))
	for _, input := range inputs {
		refs = append(refs, ParseRef(input))
	}
	return &domain.BatchRequest{
		Channels:           refs,
		PreferredLanguages: []string{"en"},
		SkipLiveStreams:    true,
		SkipPrivate:        true,
		Timeouts: domain.TimeoutSettings{
			Video:   10 * time.Second,
			Channel: 30 * time.Second,
		},
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }

func channelByID(result *domain.BatchResult, id string) *domain.ChannelProgress {
	for _, ch := range result.Channels {
		if ch.ChannelID == id {
			return ch
		}
	}
	return nil
}
