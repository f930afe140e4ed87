package report

import (
	"sync"
	"time"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

// Aggregator rolls per-video outcomes up into per-channel and batch
// summaries. It is fed by the pipelines as channels finish and produces the
// BatchResult exactly once.
type Aggregator struct {
	batchID      string
	startedAt    time.Time
	quotaAtStart int
	channels     []*domain.ChannelProgress
	categories   map[domain.ErrorCategory]int
	finalized    bool
	mu           sync.Mutex
}

// NewAggregator starts a report for one batch. quotaAtStart is the tracker
// reading before the first reservation.
func NewAggregator(batchID string, quotaAtStart int) *Aggregator {
	return &Aggregator{
		batchID:      batchID,
		startedAt:    time.Now(),
		quotaAtStart: quotaAtStart,
		categories:   make(map[domain.ErrorCategory]int),
	}
}

// RecordOutcome tallies one committed video outcome.
func (a *Aggregator) RecordOutcome(outcome *domain.VideoOutcome) {
	if outcome == nil || outcome.ErrorCategory == "" {
		return
	}
	a.mu.Lock()
	a.categories[outcome.ErrorCategory]++
	a.mu.Unlock()
}

// RecordChannel accepts the final progress snapshot of one channel.
func (a *Aggregator) RecordChannel(progress *domain.ChannelProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels = append(a.channels, progress)
	if progress.State == domain.ChannelFailed && progress.ErrorCategory != "" {
		a.categories[progress.ErrorCategory]++
	}
}

// Finalize produces the BatchResult. Subsequent calls return nil.
func (a *Aggregator) Finalize(quotaAtEnd int, cancelled bool, fatalCause string) *domain.BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return nil
	}
	a.finalized = true

	result := &domain.BatchResult{
		BatchID:     a.batchID,
		Channels:    a.channels,
		QuotaUsed:   quotaAtEnd - a.quotaAtStart,
		DurationSec: time.Since(a.startedAt).Seconds(),
		Cancelled:   cancelled,
		FatalCause:  fatalCause,
	}
	for _, ch := range a.channels {
		result.Totals.Videos += ch.Total
		result.Totals.Processed += ch.Processed
		result.Totals.Successes += ch.Successes
		result.Totals.Failures += ch.Failures
		result.Totals.Skips += ch.Skips
	}

	best := 0
	for category, count := range a.categories {
		if count > best || (count == best && best > 0 && category < result.MostCommonError) {
			best = count
			result.MostCommonError = category
		}
	}
	return result
}
