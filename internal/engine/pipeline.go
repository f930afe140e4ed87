package engine

import (
	"context"
	"errors"
	"sync"
	"time"

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

// VideoPipeline is the per-channel inner scheduler. It pulls videos lazily
// from the resolver's stream, admits each through the shared governors, and
// fans out fetch→export→commit under the video concurrency bound.
//
// The pipeline is the single writer of its ChannelProgress; every published
// snapshot is a clone taken inside the commit critical section, so observed
// counters advance monotonically.
type VideoPipeline struct {
	channel  *domain.Channel
	stream   *VideoStream
	fetcher  *TranscriptFetcher
	exporter sink.Sink
	gov      *Governors
	retry    *harvest.Engine
	bus      *event.Bus
	store    *checkpoint.Store
	agg      *report.Aggregator
	req      *domain.BatchRequest

	progress *domain.ChannelProgress
	resume   map[string]bool
	fatal    *apperrors.HarvestError
	cancel   context.CancelFunc
	mu       sync.Mutex

	logger *zap.Logger
}

// PipelineDeps carries the collaborators a pipeline needs.
type PipelineDeps struct {
	Fetcher  *TranscriptFetcher
	Exporter sink.Sink
	Gov      *Governors
	Retry    *harvest.Engine
	Bus      *event.Bus
	Store    *checkpoint.Store
	Agg      *report.Aggregator
	Logger   *zap.Logger
}

// NewVideoPipeline creates a pipeline for one resolved channel. seed is the
// checkpoint record of a previous run, or nil for a fresh start.
func NewVideoPipeline(channel *domain.Channel, stream *VideoStream, req *domain.BatchRequest, seed *checkpoint.ChannelRecord, deps PipelineDeps) *VideoPipeline {
	progress := &domain.ChannelProgress{
		ChannelID: channel.ID,
		Title:     channel.Title,
		State:     domain.ChannelRunning,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	resume := make(map[string]bool)
	if seed != nil {
		// Total restarts from the committed count; the re-listed remainder
		// is re-discovered and counted again on dispatch.
		progress.Total = seed.Processed
		progress.Processed = seed.Processed
		progress.Successes = seed.Successes
		progress.Failures = seed.Failures
		progress.Skips = seed.Skips
		progress.CommittedVideoIDs = append([]string(nil), seed.CommittedIDs...)
		for _, id := range seed.CommittedIDs {
			resume[id] = true
		}
	}

	return &VideoPipeline{
		channel:  channel,
		stream:   stream,
		fetcher:  deps.Fetcher,
		exporter: deps.Exporter,
		gov:      deps.Gov,
		retry:    deps.Retry,
		bus:      deps.Bus,
		store:    deps.Store,
		agg:      deps.Agg,
		req:      req,
		progress: progress,
		resume:   resume,
		logger:   deps.Logger.With(zap.String("channel_id", channel.ID)),
	}
}

// Run processes the channel to completion and returns the final progress.
func (p *VideoPipeline) Run(ctx context.Context) *domain.ChannelProgress {
	ctx, cancel := context.WithTimeout(ctx, p.req.Timeouts.Channel)
	p.cancel = cancel
	defer cancel()

	p.bus.Publish(&domain.Event{
		Type:      domain.EventChannelStart,
		ChannelID: p.channel.ID,
		Title:     p.channel.Title,
	})

	workers := pool.New().WithMaxGoroutines(p.req.VideoConcurrency)

	streamErr := p.dispatch(ctx, workers)
	workers.Wait()

	return p.finalize(ctx, streamErr)
}

// dispatch pulls the stream and hands admitted videos to the worker pool.
func (p *VideoPipeline) dispatch(ctx context.Context, workers *pool.Pool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.fatalError() != nil {
			return nil
		}

		video, err := p.stream.Next(ctx)
		if errors.Is(err, ErrEndOfVideos) {
			return nil
		}
		if err != nil {
			return err
		}

		if p.resume[video.ID] {
			// Already committed in a previous run; counters carry it.
			continue
		}

		p.mu.Lock()
		p.progress.Total++
		p.mu.Unlock()

		if err := p.gov.Memory.Admit(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.commit(video, p.outcomeForError(video, err, 1, time.Now()))
			continue
		}

		video := video
		workers.Go(func() {
			p.processVideo(ctx, video)
		})
	}
}

// processVideo runs one video through fetch→export and commits the outcome.
func (p *VideoPipeline) processVideo(ctx context.Context, video *domain.Video) {
	if ctx.Err() != nil {
		// Uncommitted work is discarded on cancellation.
		return
	}

	started := time.Now()
	videoCtx, cancel := context.WithTimeout(ctx, p.req.Timeouts.Video)
	defer cancel()

	var transcript *domain.Transcript
	attempts, err := p.retry.Run(videoCtx, func(ctx context.Context) error {
		if err := p.gov.Limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		fetched, err := p.fetcher.Fetch(ctx, video, p.req.PreferredLanguages, p.req.AllowAutoGenerated)
		cls := harvest.Classify(err)
		p.gov.Limiter.Report(err == nil, cls.Category)
		if err != nil {
			return err
		}
		transcript = fetched
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Channel-level cancellation; discard without committing.
			return
		}
		p.commit(video, p.outcomeForError(video, err, attempts, started))
		return
	}

	wordCount := transcript.WordCount()
	exportPath, err := p.exportTranscript(videoCtx, video, transcript)
	transcript = nil // release; the engine never retains transcripts
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.commit(video, p.outcomeForError(video, err, attempts, started))
		return
	}

	outcome := &domain.VideoOutcome{
		VideoID:       video.ID,
		State:         domain.OutcomeSuccess,
		Attempts:      attempts,
		ProcessingSec: time.Since(started).Seconds(),
		WordCount:     &wordCount,
		ExportPath:    exportPath,
	}
	p.commit(video, outcome)
}

// exportTranscript hands the transcript to the sink, retrying transient
// failures. Export is idempotent, so retries are safe.
func (p *VideoPipeline) exportTranscript(ctx context.Context, video *domain.Video, transcript *domain.Transcript) (string, error) {
	var path string
	_, err := p.retry.Run(ctx, func(ctx context.Context) error {
		exported, err := p.exporter.Export(ctx, p.channel, video, transcript)
		if err != nil {
			return err
		}
		path = exported
		return nil
	})
	return path, err
}

// outcomeForError converts a classified failure into a terminal outcome and
// raises channel-fatal errors.
func (p *VideoPipeline) outcomeForError(video *domain.Video, err error, attempts int, started time.Time) *domain.VideoOutcome {
	cls := harvest.Classify(err)

	if cls.Category.FailsChannel() || cls.Category == domain.CategoryQuotaExceeded {
		p.raiseFatal(cls, err)
	}

	state := domain.OutcomeFailed
	if cls.Category.SkipsVideo() {
		state = domain.OutcomeSkipped
	}
	return &domain.VideoOutcome{
		VideoID:       video.ID,
		State:         state,
		ErrorCategory: cls.Category,
		UserMessage:   apperrors.UserMessageOf(err),
		Attempts:      attempts,
		ProcessingSec: time.Since(started).Seconds(),
	}
}

// raiseFatal records the first channel-fatal error and cancels remaining
// work. Committed outcomes stay valid.
func (p *VideoPipeline) raiseFatal(cls harvest.Classification, err error) {
	p.mu.Lock()
	already := p.fatal != nil
	if !already {
		p.fatal = apperrors.Wrap(cls.Category, "channel processing aborted", err)
	}
	p.mu.Unlock()
	if already {
		return
	}

	p.logger.Warn("channel-fatal error; cancelling remaining work",
		zap.String("category", cls.Category.String()),
		zap.Error(err))
	p.bus.Publish(&domain.Event{
		Type:      domain.EventChannelError,
		ChannelID: p.channel.ID,
		Category:  cls.Category,
		Message:   apperrors.UserMessageOf(err),
	})
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *VideoPipeline) fatalError() *apperrors.HarvestError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

// commit writes one terminal outcome. Counters, checkpoint update, and the
// VIDEO_DONE event share the critical section so observers always see
// monotonically advancing counts.
func (p *VideoPipeline) commit(video *domain.Video, outcome *domain.VideoOutcome) {
	p.mu.Lock()
	p.progress.Processed++
	switch outcome.State {
	case domain.OutcomeSuccess:
		p.progress.Successes++
	case domain.OutcomeSkipped:
		p.progress.Skips++
	default:
		p.progress.Failures++
	}
	p.progress.CommittedVideoIDs = append(p.progress.CommittedVideoIDs, video.ID)
	p.progress.LastCommittedVideoID = video.ID
	p.progress.UpdatedAt = time.Now()
	snapshot := p.progress.Clone()

	p.store.Update(snapshot)
	p.agg.RecordOutcome(outcome)
	p.bus.Publish(&domain.Event{
		Type:      domain.EventVideoDone,
		ChannelID: p.channel.ID,
		Outcome:   outcome,
		Progress:  snapshot,
	})
	p.mu.Unlock()

	p.logger.Debug("video committed",
		zap.String("video_id", video.ID),
		zap.String("state", string(outcome.State)),
		zap.Int("attempts", outcome.Attempts))
}

// finalize derives the terminal channel state and emits CHANNEL_DONE.
func (p *VideoPipeline) finalize(ctx context.Context, streamErr error) *domain.ChannelProgress {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.fatal != nil:
		p.progress.State = domain.ChannelFailed
		p.progress.ErrorCategory = p.fatal.Category
		if p.progress.Successes > 0 {
			p.progress.State = domain.ChannelPartial
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		// Channel deadline is a per-channel fatal.
		p.progress.State = domain.ChannelFailed
		p.progress.ErrorCategory = domain.CategoryTimeout
		if p.progress.Successes > 0 {
			p.progress.State = domain.ChannelPartial
		}
	case ctx.Err() != nil:
		// Cancelled mid-stream: resumable, so never DONE.
		p.progress.State = domain.ChannelPartial
	case streamErr != nil:
		cls := harvest.Classify(streamErr)
		p.progress.State = domain.ChannelFailed
		p.progress.ErrorCategory = cls.Category
		if p.progress.Successes > 0 {
			p.progress.State = domain.ChannelPartial
		}
	default:
		p.progress.State = p.progress.FinalState()
	}
	p.progress.UpdatedAt = time.Now()
	snapshot := p.progress.Clone()

	p.store.Update(snapshot)
	p.bus.Publish(&domain.Event{
		Type:      domain.EventChannelDone,
		ChannelID: p.channel.ID,
		Progress:  snapshot,
	})

	p.logger.Info("channel finished",
		zap.String("state", string(snapshot.State)),
		zap.Int("processed", snapshot.Processed),
		zap.Int("successes", snapshot.Successes),
		zap.Int("failures", snapshot.Failures),
		zap.Int("skips", snapshot.Skips))
	return snapshot
}
