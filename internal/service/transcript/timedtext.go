package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// timedtextResponse is the json3 payload served by the caption track URLs.
type timedtextResponse struct {
	Events []timedtextEvent `json:"events"`
}

type timedtextEvent struct {
	TStartMs    int64              `json:"tStartMs"`
	DDurationMs int64              `json:"dDurationMs"`
	Segs        []timedtextSegment `json:"segs,omitempty"`
}

type timedtextSegment struct {
	UTF8 string `json:"utf8"`
}

// fetchTrack downloads and parses one caption track as transcript segments.
func (s *Service) fetchTrack(ctx context.Context, track CaptionTrack) ([]domain.Segment, error) {
	url := track.BaseURL
	if !strings.Contains(url, "fmt=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "fmt=json3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timedtext request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.New(domain.CategoryTranscriptUnavailable, "caption track not found")
	case http.StatusTooManyRequests:
		return nil, apperrors.New(domain.CategoryRateLimited, "rate limited by transcript source")
	default:
		return nil, fmt.Errorf("timedtext returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read timedtext body: %w", err)
	}

	var parsed timedtextResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse timedtext json: %w", err)
	}

	segments := make([]domain.Segment, 0, len(parsed.Events))
	for _, event := range parsed.Events {
		if len(event.Segs) == 0 {
			continue
		}
		var text strings.Builder
		for _, seg := range event.Segs {
			text.WriteString(seg.UTF8)
		}
		segments = append(segments, domain.Segment{
			Text:        text.String(),
			StartSec:    float64(event.TStartMs) / 1000,
			DurationSec: float64(event.DDurationMs) / 1000,
		})
	}
	return segments, nil
}
