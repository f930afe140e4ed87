package observer

import (
	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/util"
)

// Logger renders engine events as structured log lines. It is the default
// observer when no richer frontend is attached.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a logging observer.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// Handle implements event.Observer.
func (l *Logger) Handle(ev *domain.Event) {
	switch ev.Type {
	case domain.EventBatchStart:
		l.logger.Info("batch started", zap.String("batch_id", ev.BatchID))
	case domain.EventChannelResolved:
		l.logger.Info("channel resolved",
			zap.String("channel_id", ev.ChannelID),
			zap.String("title", util.TruncateString(ev.Title, 80)),
			zap.Int("video_count", ev.VideoCount))
	case domain.EventChannelStart:
		l.logger.Info("channel started", zap.String("channel_id", ev.ChannelID))
	case domain.EventVideoDone:
		outcome := ev.Outcome
		fields := []zap.Field{
			zap.String("channel_id", ev.ChannelID),
			zap.String("video_id", outcome.VideoID),
			zap.String("state", string(outcome.State)),
			zap.Int("attempts", outcome.Attempts),
		}
		if ev.Progress != nil {
			fields = append(fields,
				zap.Int("processed", ev.Progress.Processed),
				zap.Int("total", ev.Progress.Total))
		}
		if outcome.State == domain.OutcomeSuccess {
			l.logger.Info("video done", fields...)
		} else {
			fields = append(fields,
				zap.String("category", outcome.ErrorCategory.String()),
				zap.String("reason", outcome.UserMessage))
			l.logger.Warn("video done", fields...)
		}
	case domain.EventChannelError:
		l.logger.Warn("channel error",
			zap.String("channel_id", ev.ChannelID),
			zap.String("category", ev.Category.String()),
			zap.String("message", ev.Message))
	case domain.EventChannelDone:
		progress := ev.Progress
		l.logger.Info("channel done",
			zap.String("channel_id", ev.ChannelID),
			zap.String("state", string(progress.State)),
			zap.Int("successes", progress.Successes),
			zap.Int("failures", progress.Failures),
			zap.Int("skips", progress.Skips))
	case domain.EventBatchDone:
		result := ev.Result
		l.logger.Info("batch done",
			zap.String("batch_id", result.BatchID),
			zap.Int("successes", result.Totals.Successes),
			zap.Int("failures", result.Totals.Failures),
			zap.Int("skips", result.Totals.Skips),
			zap.Int("quota_used", result.QuotaUsed),
			zap.String("most_common_error", result.MostCommonError.String()))
	}
}
