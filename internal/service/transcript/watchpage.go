package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

const playerResponseMarker = "var ytInitialPlayerResponse = "

// CaptionTrack describes one caption track advertised by the watch page.
type CaptionTrack struct {
	BaseURL       string `json:"baseUrl"`
	LanguageCode  string `json:"languageCode"`
	Kind          string `json:"kind,omitempty"` // "asr" marks auto-generated
	IsTranslatable bool  `json:"isTranslatable,omitempty"`
}

// AutoGenerated reports whether the track is machine-produced.
func (t CaptionTrack) AutoGenerated() bool {
	return t.Kind == "asr"
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	} `json:"playabilityStatus"`
	Captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []CaptionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// fetchCaptionTracks loads the watch page and extracts the caption track
// listing from the embedded player response.
func (s *Service) fetchCaptionTracks(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.youtube.com/watch?v="+videoID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch page request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, apperrors.New(domain.CategoryRateLimited, "rate limited by transcript source")
	case http.StatusNotFound:
		return nil, apperrors.New(domain.CategoryPrivateOrRemoved, "video not available")
	default:
		return nil, fmt.Errorf("watch page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse watch page: %w", err)
	}

	var raw string
	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := sel.Text()
		idx := strings.Index(text, playerResponseMarker)
		if idx < 0 {
			return true
		}
		raw = extractJSONObject(text[idx+len(playerResponseMarker):])
		return false
	})
	if raw == "" {
		return nil, apperrors.New(domain.CategoryTranscriptUnavailable,
			"no player response on watch page").
			WithUserMessage("the video page did not expose caption data")
	}

	var pr playerResponse
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		return nil, fmt.Errorf("parse player response: %w", err)
	}

	switch pr.PlayabilityStatus.Status {
	case "LOGIN_REQUIRED", "UNPLAYABLE":
		return nil, apperrors.New(domain.CategoryPrivateOrRemoved,
			fmt.Sprintf("video is not playable: %s", pr.PlayabilityStatus.Reason)).
			WithUserMessage("the video is private or has been removed")
	case "ERROR":
		return nil, apperrors.New(domain.CategoryPrivateOrRemoved, "video removed").
			WithUserMessage("the video has been removed")
	}

	return pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, nil
}

// extractJSONObject returns the balanced JSON object at the start of s.
// The player response is followed by ";" and more script, so a plain
// json.Unmarshal of the remainder would fail.
func extractJSONObject(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
