package sink

import (
	"context"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

// Sink persists one transcript somewhere. Export must be idempotent: running
// it twice for the same video yields the same path and equivalent content.
type Sink interface {
	Export(ctx context.Context, channel *domain.Channel, video *domain.Video, transcript *domain.Transcript) (string, error)
}
