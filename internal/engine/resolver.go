package engine

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/harvest"
	"github.com/kapu/yt-harvester-go/internal/service/cache"
	"github.com/kapu/yt-harvester-go/internal/util"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// ErrEndOfVideos signals that a video stream is exhausted.
var ErrEndOfVideos = errors.New("end of video stream")

// ParseRef classifies a raw user input as URL, handle, or canonical id.
func ParseRef(input string) domain.ChannelRef {
	trimmed := strings.TrimSpace(input)
	switch {
	case strings.Contains(trimmed, "youtube.com/") || strings.Contains(trimmed, "youtu.be/"):
		return domain.ChannelRef{Input: trimmed, Kind: domain.RefKindURL}
	case strings.HasPrefix(trimmed, "@"):
		return domain.ChannelRef{Input: trimmed, Kind: domain.RefKindHandle}
	default:
		return domain.ChannelRef{Input: trimmed, Kind: domain.RefKindID}
	}
}

// normalizeRef reduces a URL reference to an id or handle reference.
func normalizeRef(ref domain.ChannelRef) (domain.ChannelRef, error) {
	if ref.Kind != domain.RefKindURL {
		return ref, nil
	}

	raw := ref.Input
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ref, apperrors.Wrap(domain.CategoryValidation, "invalid channel url", err)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ref, apperrors.New(domain.CategoryValidation,
			"url carries no channel path: "+ref.Input)
	}

	switch {
	case segments[0] == "channel" && len(segments) > 1:
		return domain.ChannelRef{Input: segments[1], Kind: domain.RefKindID}, nil
	case strings.HasPrefix(segments[0], "@"):
		return domain.ChannelRef{Input: segments[0], Kind: domain.RefKindHandle}, nil
	case (segments[0] == "c" || segments[0] == "user") && len(segments) > 1:
		// Legacy custom URLs resolve through the handle lookup.
		return domain.ChannelRef{Input: "@" + segments[1], Kind: domain.RefKindHandle}, nil
	}
	return ref, apperrors.New(domain.CategoryValidation,
		"unsupported channel url: "+ref.Input).
		WithUserMessage("use a /channel/, /@handle, /c/ or /user/ link")
}

// Resolver normalizes channel references into canonical channel records and
// exposes each channel's uploads as a lazily paged stream. All upstream
// calls run under the shared governors and the retry engine.
type Resolver struct {
	origin MetadataOrigin
	gov    *Governors
	retry  *harvest.Engine
	cache  *cache.Service
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(origin MetadataOrigin, gov *Governors, retry *harvest.Engine, cacheSvc *cache.Service, logger *zap.Logger) *Resolver {
	return &Resolver{
		origin: origin,
		gov:    gov,
		retry:  retry,
		cache:  cacheSvc,
		logger: logger,
	}
}

// metadataCall reserves quota, passes the rate limiter, and runs one origin
// call under the retry engine. Quota is refunded only when the outbound call
// never began.
func (r *Resolver) metadataCall(ctx context.Context, cost int, op func(context.Context) error) (int, error) {
	return r.retry.Run(ctx, func(ctx context.Context) error {
		if err := r.gov.Quota.WaitAvailable(ctx, cost); err != nil {
			return err
		}
		if err := r.gov.Limiter.Acquire(ctx, 1); err != nil {
			// The call never went out; the reservation goes back.
			r.gov.Quota.Refund(cost)
			return err
		}

		err := op(ctx)
		cls := harvest.Classify(err)
		r.gov.Limiter.Report(err == nil, cls.Category)
		return err
	})
}

// Resolve produces the canonical channel record for a reference.
func (r *Resolver) Resolve(ctx context.Context, ref domain.ChannelRef) (*domain.Channel, error) {
	normalized, err := normalizeRef(ref)
	if err != nil {
		return nil, err
	}

	cacheKey := "harvester:channel:" + util.Normalize(normalized.Input)
	var cached domain.Channel
	if hit, _ := r.cache.Get(ctx, cacheKey, &cached); hit {
		r.logger.Debug("channel resolution cache hit", zap.String("input", normalized.Input))
		return &cached, nil
	}

	var channel *domain.Channel
	_, err = r.metadataCall(ctx, constants.QuotaCosts.ChannelLookup, func(ctx context.Context) error {
		resolved, err := r.origin.ResolveChannel(ctx, normalized)
		if err != nil {
			return err
		}
		channel = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, cacheKey, channel, constants.CacheTTL.ChannelResolution)
	return channel, nil
}

// StreamFilters select which uploads a stream emits.
type StreamFilters struct {
	SkipLiveStreams bool
	SkipPrivate     bool
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	MaxVideos       int
}

// FromRequest derives stream filters from a batch request.
func FromRequest(req *domain.BatchRequest) StreamFilters {
	return StreamFilters{
		SkipLiveStreams: req.SkipLiveStreams,
		SkipPrivate:     req.SkipPrivate,
		PublishedAfter:  req.PublishedAfter,
		PublishedBefore: req.PublishedBefore,
		MaxVideos:       req.MaxVideosPerChannel,
	}
}

func (f StreamFilters) admit(video *domain.Video) bool {
	if f.SkipLiveStreams && video.IsLive {
		return false
	}
	if f.SkipPrivate && video.IsPrivate {
		return false
	}
	if f.PublishedAfter != nil && video.PublishedAt.Before(*f.PublishedAfter) {
		return false
	}
	if f.PublishedBefore != nil && video.PublishedAt.After(*f.PublishedBefore) {
		return false
	}
	return true
}

// VideoStream pulls a channel's uploads page by page. Pages are fetched on
// demand; the full listing is never materialized. Streams are restartable:
// a fresh stream for the same channel starts from the first page.
type VideoStream struct {
	resolver  *Resolver
	channel   *domain.Channel
	filters   StreamFilters
	buffer    []*domain.Video
	pageToken string
	started   bool
	exhausted bool
	emitted   int
}

// Stream opens a lazy video stream for the channel.
func (r *Resolver) Stream(channel *domain.Channel, filters StreamFilters) *VideoStream {
	return &VideoStream{
		resolver: r,
		channel:  channel,
		filters:  filters,
	}
}

// Next returns the next upload passing the filters, or ErrEndOfVideos.
func (s *VideoStream) Next(ctx context.Context) (*domain.Video, error) {
	for {
		if s.filters.MaxVideos > 0 && s.emitted >= s.filters.MaxVideos {
			return nil, ErrEndOfVideos
		}
		if len(s.buffer) > 0 {
			video := s.buffer[0]
			s.buffer = s.buffer[1:]
			if !s.filters.admit(video) {
				continue
			}
			s.emitted++
			return video, nil
		}
		if s.exhausted {
			return nil, ErrEndOfVideos
		}
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *VideoStream) fetchPage(ctx context.Context) error {
	if s.started && s.pageToken == "" {
		s.exhausted = true
		return nil
	}

	var page *domain.VideoPage
	_, err := s.resolver.metadataCall(ctx, constants.QuotaCosts.VideoListPage+constants.QuotaCosts.VideoDetails, func(ctx context.Context) error {
		fetched, err := s.resolver.origin.ListVideos(ctx, s.channel, s.pageToken)
		if err != nil {
			return err
		}
		page = fetched
		return nil
	})
	if err != nil {
		return err
	}

	s.started = true
	s.buffer = append(s.buffer, page.Videos...)
	s.pageToken = page.NextPageToken
	if s.pageToken == "" && len(s.buffer) == 0 && len(page.Videos) == 0 {
		s.exhausted = true
	}
	return nil
}
