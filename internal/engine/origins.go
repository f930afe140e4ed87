package engine

import (
	"context"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/governor"
)

// MetadataOrigin is the channel/video metadata source. Every call consumes
// quota units declared in constants.QuotaCosts; the engine reserves them
// before invoking.
type MetadataOrigin interface {
	ResolveChannel(ctx context.Context, ref domain.ChannelRef) (*domain.Channel, error)
	ListVideos(ctx context.Context, channel *domain.Channel, pageToken string) (*domain.VideoPage, error)
}

// TranscriptOrigin is the caption source. It consumes no quota units.
type TranscriptOrigin interface {
	ListLanguages(ctx context.Context, videoID string) ([]domain.TranscriptLanguage, error)
	FetchTranscript(ctx context.Context, videoID, language string, autoGenerated bool) (*domain.Transcript, error)
}

// Governors bundles the process-wide admission gates. They are shared across
// every in-flight channel of a batch: quota and rate limits are global,
// memory pressure is global.
type Governors struct {
	Quota   *governor.QuotaTracker
	Limiter *governor.AdaptiveRateLimiter
	Memory  *governor.MemoryGuard
}
