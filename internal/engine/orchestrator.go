package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/checkpoint"
	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/event"
	"github.com/kapu/yt-harvester-go/internal/harvest"
	"github.com/kapu/yt-harvester-go/internal/report"
	"github.com/kapu/yt-harvester-go/internal/sink"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// Orchestrator is the outer scheduler. It admits channels under the channel
// concurrency bound, owns the shared governors, isolates per-channel
// failures, and aggregates the batch result.
type Orchestrator struct {
	metadata      MetadataOrigin
	transcripts   TranscriptOrigin
	exporter      sink.Sink
	gov           *Governors
	bus           *event.Bus
	resolver      *Resolver
	retry         *harvest.Engine
	checkpointDir string
	logger        *zap.Logger

	quotaFatal bool
	seen       map[string]bool
	mu         sync.Mutex
}

// OrchestratorDeps carries the orchestrator's collaborators. Governors are
// injected, never constructed here: the orchestrator is their sole owner for
// the duration of a batch, and every pipeline shares them.
type OrchestratorDeps struct {
	Metadata      MetadataOrigin
	Transcripts   TranscriptOrigin
	Exporter      sink.Sink
	Gov           *Governors
	Bus           *event.Bus
	Resolver      *Resolver
	Retry         *harvest.Engine
	CheckpointDir string
	Logger        *zap.Logger
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		metadata:      deps.Metadata,
		transcripts:   deps.Transcripts,
		exporter:      deps.Exporter,
		gov:           deps.Gov,
		bus:           deps.Bus,
		resolver:      deps.Resolver,
		retry:         deps.Retry,
		checkpointDir: deps.CheckpointDir,
		logger:        deps.Logger,
	}
}

// Run executes one batch to completion and returns its result.
func (o *Orchestrator) Run(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(domain.CategoryValidation, "invalid batch request", err)
	}

	if req.Timeouts.Batch > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeouts.Batch)
		defer cancel()
	}

	batchID := uuid.NewString()
	var prior *checkpoint.Snapshot
	if req.ResumeFrom != "" {
		snap, err := checkpoint.Load(o.checkpointDir, req.ResumeFrom)
		if err != nil {
			return nil, apperrors.Wrap(domain.CategoryValidation, "cannot resume batch", err)
		}
		if snap.Result != nil {
			// Resuming a completed batch is a no-op.
			o.logger.Info("batch already complete; returning archived result",
				zap.String("batch_id", req.ResumeFrom))
			return snap.Result, nil
		}
		prior = snap
		batchID = req.ResumeFrom
	}

	o.mu.Lock()
	o.seen = make(map[string]bool)
	o.quotaFatal = false
	o.mu.Unlock()

	logger := o.logger.With(zap.String("batch_id", batchID))
	logger.Info("batch starting",
		zap.Int("channels", len(req.Channels)),
		zap.Int("channel_concurrency", req.ChannelConcurrency),
		zap.Int("video_concurrency", req.VideoConcurrency),
		zap.Int("quota_limit", req.QuotaLimit))

	agg := report.NewAggregator(batchID, o.gov.Quota.Used())
	store := checkpoint.NewStore(o.checkpointDir, batchID, time.Now(), logger)
	defer store.Close()

	o.bus.Publish(&domain.Event{
		Type:    domain.EventBatchStart,
		BatchID: batchID,
		Message: "batch started",
	})

	refs := dedupeInputs(req.Channels)

	channels := pool.New().WithMaxGoroutines(req.ChannelConcurrency)
	for _, ref := range refs {
		ref := ref
		channels.Go(func() {
			o.runChannel(ctx, req, ref, prior, store, agg, logger)
		})
	}
	channels.Wait()

	result := agg.Finalize(o.gov.Quota.Used(), ctx.Err() != nil, "")
	if result.Cancelled {
		// Leave the checkpoint without a result so the batch stays
		// resumable; committed progress is already flushed.
		logger.Info("batch cancelled; checkpoint kept resumable")
	} else if err := store.Finalize(result); err != nil {
		logger.Warn("failed to persist final checkpoint", zap.Error(err))
	}

	o.bus.Publish(&domain.Event{
		Type:    domain.EventBatchDone,
		BatchID: batchID,
		Result:  result,
	})

	logger.Info("batch finished",
		zap.Int("processed", result.Totals.Processed),
		zap.Int("successes", result.Totals.Successes),
		zap.Int("failures", result.Totals.Failures),
		zap.Int("skips", result.Totals.Skips),
		zap.Int("quota_used", result.QuotaUsed),
		zap.Float64("duration_sec", result.DurationSec))
	return result, nil
}

// runChannel takes one reference through resolve → pipeline → finalize.
// Failures here never escape: every path records progress and emits exactly
// one CHANNEL_DONE, except an input that resolves to an already-admitted
// channel, which records and emits nothing.
func (o *Orchestrator) runChannel(ctx context.Context, req *domain.BatchRequest, ref domain.ChannelRef, prior *checkpoint.Snapshot, store *checkpoint.Store, agg *report.Aggregator, logger *zap.Logger) {
	if o.isQuotaFatal() {
		o.failUnstarted(ref, domain.CategoryQuotaExceeded, "daily quota exhausted before this channel started", store, agg)
		return
	}

	// A channel known complete from the prior run is not re-admitted; no
	// metadata is fetched for it.
	if prior != nil {
		if rec := priorRecordForInput(prior, ref.Input); rec != nil && rec.State == domain.ChannelDone {
			progress := recordProgress(rec)
			store.BindInput(rec.ChannelID, ref.Input)
			agg.RecordChannel(progress)
			store.Update(progress)
			o.bus.Publish(&domain.Event{
				Type:      domain.EventChannelDone,
				ChannelID: rec.ChannelID,
				Progress:  progress,
			})
			logger.Info("channel already complete in checkpoint; skipping",
				zap.String("channel_id", rec.ChannelID))
			return
		}
	}

	if err := o.gov.Memory.Admit(ctx); err != nil {
		o.failUnstarted(ref, harvest.Classify(err).Category, "memory pressure prevented channel admission", store, agg)
		return
	}

	channel, err := o.resolver.Resolve(ctx, ref)
	if err != nil {
		cls := harvest.Classify(err)
		if cls.Category == domain.CategoryQuotaExceeded {
			o.markQuotaFatal(logger)
		}
		o.failUnstarted(ref, cls.Category, apperrors.UserMessageOf(err), store, agg)
		return
	}

	store.BindInput(channel.ID, ref.Input)

	if o.isDuplicate(channel.ID) {
		logger.Info("duplicate channel input skipped",
			zap.String("input", ref.Input),
			zap.String("channel_id", channel.ID))
		return
	}

	videoCount := 0
	if channel.VideoCount != nil {
		videoCount = int(*channel.VideoCount)
	}
	o.bus.Publish(&domain.Event{
		Type:       domain.EventChannelResolved,
		ChannelID:  channel.ID,
		Title:      channel.Title,
		VideoCount: videoCount,
	})

	var seed *checkpoint.ChannelRecord
	if prior != nil {
		seed = prior.Channels[channel.ID]
	}

	stream := o.resolver.Stream(channel, FromRequest(req))
	pipeline := NewVideoPipeline(channel, stream, req, seed, PipelineDeps{
		Fetcher:  NewTranscriptFetcher(o.transcripts, logger),
		Exporter: o.exporter,
		Gov:      o.gov,
		Retry:    o.retry,
		Bus:      o.bus,
		Store:    store,
		Agg:      agg,
		Logger:   logger,
	})

	final := pipeline.Run(ctx)
	agg.RecordChannel(final)

	if final.State == domain.ChannelFailed && final.ErrorCategory == domain.CategoryQuotaExceeded {
		o.markQuotaFatal(logger)
	}
}

// failUnstarted finalizes a channel that never reached RUNNING.
func (o *Orchestrator) failUnstarted(ref domain.ChannelRef, category domain.ErrorCategory, message string, store *checkpoint.Store, agg *report.Aggregator) {
	progress := &domain.ChannelProgress{
		ChannelID:     ref.Input,
		State:         domain.ChannelFailed,
		ErrorCategory: category,
		StartedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	store.BindInput(ref.Input, ref.Input)
	agg.RecordChannel(progress)
	store.Update(progress)
	o.bus.Publish(&domain.Event{
		Type:      domain.EventChannelDone,
		ChannelID: ref.Input,
		Progress:  progress,
		Message:   message,
	})
}

func (o *Orchestrator) isDuplicate(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[channelID] {
		return true
	}
	o.seen[channelID] = true
	return false
}

func (o *Orchestrator) markQuotaFatal(logger *zap.Logger) {
	o.mu.Lock()
	already := o.quotaFatal
	o.quotaFatal = true
	o.mu.Unlock()
	if !already {
		logger.Warn("global quota exhaustion; remaining channels will not start")
	}
}

func (o *Orchestrator) isQuotaFatal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quotaFatal
}

// dedupeInputs removes exactly repeated inputs before resolution. Inputs
// that differ textually but resolve to the same channel are caught after
// resolution.
func dedupeInputs(refs []domain.ChannelRef) []domain.ChannelRef {
	seen := make(map[string]bool, len(refs))
	out := make([]domain.ChannelRef, 0, len(refs))
	for _, ref := range refs {
		key := ref.Input
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}

// priorRecordForInput finds the checkpoint record a raw input resolved to in
// the prior run, without spending quota on re-resolution.
func priorRecordForInput(prior *checkpoint.Snapshot, input string) *checkpoint.ChannelRecord {
	for _, rec := range prior.Channels {
		if rec.Input == input || rec.ChannelID == input {
			return rec
		}
	}
	return nil
}

// recordProgress rebuilds a progress snapshot from a checkpoint record.
func recordProgress(rec *checkpoint.ChannelRecord) *domain.ChannelProgress {
	return &domain.ChannelProgress{
		ChannelID:         rec.ChannelID,
		Title:             rec.Title,
		State:             rec.State,
		Total:             rec.Total,
		Processed:         rec.Processed,
		Successes:         rec.Successes,
		Failures:          rec.Failures,
		Skips:             rec.Skips,
		CommittedVideoIDs: append([]string(nil), rec.CommittedIDs...),
		UpdatedAt:         time.Now(),
	}
}
