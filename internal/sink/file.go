package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/util"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// FileSink writes one file per video under dir/<channel title>/. The file
// name is the video id, so re-exports overwrite rather than conflict.
type FileSink struct {
	dir    string
	format string
	logger *zap.Logger
}

// NewFileSink creates a sink for the given format ("text" or "json").
func NewFileSink(dir, format string, logger *zap.Logger) (*FileSink, error) {
	switch format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("unsupported sink format %q", format)
	}
	return &FileSink{dir: dir, format: format, logger: logger}, nil
}

type jsonDocument struct {
	VideoID       string           `json:"video_id"`
	VideoTitle    string           `json:"video_title"`
	ChannelID     string           `json:"channel_id"`
	ChannelTitle  string           `json:"channel_title"`
	PublishedAt   time.Time        `json:"published_at"`
	Language      string           `json:"language"`
	AutoGenerated bool             `json:"auto_generated"`
	Segments      []domain.Segment `json:"segments"`
}

// Export implements Sink.
func (s *FileSink) Export(ctx context.Context, channel *domain.Channel, video *domain.Video, transcript *domain.Transcript) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	channelDir := filepath.Join(s.dir, util.SanitizeFilename(channel.Title))
	if err := os.MkdirAll(channelDir, 0755); err != nil {
		return "", s.wrap("create output directory", err)
	}

	ext := "txt"
	if s.format == "json" {
		ext = "json"
	}
	path := filepath.Join(channelDir, video.ID+"."+ext)

	var data []byte
	switch s.format {
	case "json":
		doc := jsonDocument{
			VideoID:       video.ID,
			VideoTitle:    video.Title,
			ChannelID:     channel.ID,
			ChannelTitle:  channel.Title,
			PublishedAt:   video.PublishedAt,
			Language:      transcript.Language,
			AutoGenerated: transcript.AutoGenerated,
			Segments:      transcript.Segments,
		}
		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", s.wrap("encode transcript", err)
		}
		data = encoded
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n", video.Title)
		fmt.Fprintf(&b, "# %s · %s · %s\n\n", channel.Title, video.ID, transcript.Language)
		for _, seg := range transcript.Segments {
			fmt.Fprintf(&b, "[%s] %s\n", formatOffset(seg.StartSec), seg.Text)
		}
		data = []byte(b.String())
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", s.wrap("write transcript file", err)
	}

	s.logger.Debug("transcript exported",
		zap.String("video_id", video.ID),
		zap.String("path", path))
	return path, nil
}

// wrap categorizes filesystem failures for the classifier.
func (s *FileSink) wrap(msg string, err error) error {
	if os.IsPermission(err) {
		return apperrors.Wrap(domain.CategoryPermission, msg, err).
			WithUserMessage("the output directory is not writable")
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func formatOffset(sec float64) string {
	total := int(sec)
	h := total / 3600
	m := (total % 3600) / 60
	rest := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, rest)
	}
	return fmt.Sprintf("%d:%02d", m, rest)
}
