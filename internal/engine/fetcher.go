package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/harvest"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// TranscriptFetcher obtains one transcript per video with ordered language
// fallback. Manual tracks are preferred in the caller's language order;
// auto-generated tracks are considered only when allowed, again in order.
type TranscriptFetcher struct {
	origin TranscriptOrigin
	logger *zap.Logger
}

// NewTranscriptFetcher creates a fetcher over the given origin.
func NewTranscriptFetcher(origin TranscriptOrigin, logger *zap.Logger) *TranscriptFetcher {
	return &TranscriptFetcher{origin: origin, logger: logger}
}

// Fetch returns the best available transcript for the video.
func (f *TranscriptFetcher) Fetch(ctx context.Context, video *domain.Video, languages []string, allowAuto bool) (*domain.Transcript, error) {
	available, err := f.origin.ListLanguages(ctx, video.ID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, apperrors.New(domain.CategoryTranscriptUnavailable,
			fmt.Sprintf("video %s has no caption tracks", video.ID)).
			WithUserMessage("the video has no transcript in any language")
	}

	candidates := pickTracks(available, languages, allowAuto)
	if len(candidates) == 0 {
		return nil, apperrors.New(domain.CategoryTranscriptUnavailable,
			fmt.Sprintf("video %s has no caption track in %v", video.ID, languages)).
			WithUserMessage("no transcript matches the requested languages")
	}

	var lastErr error
	for _, track := range candidates {
		transcript, err := f.origin.FetchTranscript(ctx, video.ID, track.Code, track.AutoGenerated)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Transient failures surface immediately so the retry engine
			// re-attempts the same track; only terminal track conditions
			// trigger language fallback.
			if harvest.Classify(err).Retryable {
				return nil, err
			}
			lastErr = err
			f.logger.Debug("caption track failed, trying next",
				zap.String("video_id", video.ID),
				zap.String("language", track.Code),
				zap.Bool("auto", track.AutoGenerated),
				zap.Error(err))
			continue
		}
		normalizeSegments(transcript)
		return transcript, nil
	}
	return nil, lastErr
}

// pickTracks orders the available tracks by preference: manual tracks in
// language order, then auto-generated ones in language order when allowed.
func pickTracks(available []domain.TranscriptLanguage, languages []string, allowAuto bool) []domain.TranscriptLanguage {
	var picked []domain.TranscriptLanguage
	for _, auto := range []bool{false, true} {
		if auto && !allowAuto {
			break
		}
		for _, lang := range languages {
			for _, track := range available {
				if track.AutoGenerated == auto && languageMatches(track.Code, lang) {
					picked = append(picked, track)
				}
			}
		}
	}
	return picked
}

// languageMatches accepts exact codes and regional variants ("en" matches
// "en-US").
func languageMatches(code, want string) bool {
	code = strings.ToLower(code)
	want = strings.ToLower(want)
	return code == want || strings.HasPrefix(code, want+"-")
}

// normalizeSegments trims whitespace, drops empty segments, and forces
// monotonically non-decreasing start offsets.
func normalizeSegments(t *domain.Transcript) {
	cleaned := t.Segments[:0]
	lastStart := 0.0
	for _, seg := range t.Segments {
		seg.Text = strings.Join(strings.Fields(seg.Text), " ")
		if seg.Text == "" {
			continue
		}
		if seg.StartSec < lastStart {
			seg.StartSec = lastStart
		}
		lastStart = seg.StartSec
		cleaned = append(cleaned, seg)
	}
	t.Segments = cleaned
}
