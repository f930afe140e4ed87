package transcript

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/util"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Service is the transcript origin. It discovers caption tracks on the
// watch page and downloads them from the timedtext endpoint, a distinct
// source from the metadata API that consumes no quota units.
//
// A circuit breaker guards the scraping path: sustained failures open the
// circuit and further fetches fail fast until the reset timeout. Track
// listings are remembered per video so FetchTranscript does not reload the
// watch page after ListLanguages.
type Service struct {
	httpClient *http.Client
	breaker    *util.CircuitBreaker
	tracks     map[string][]CaptionTrack
	tracksMu   sync.Mutex
	logger     *zap.Logger
}

// NewService creates a transcript origin.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: constants.TranscriptConfig.FetchTimeout},
		breaker: util.NewCircuitBreaker(
			constants.TranscriptConfig.BreakerFailureThreshold,
			constants.TranscriptConfig.BreakerResetTimeout,
			logger,
		),
		tracks: make(map[string][]CaptionTrack),
		logger: logger,
	}
}

// ListLanguages returns the caption languages available for a video.
func (s *Service) ListLanguages(ctx context.Context, videoID string) ([]domain.TranscriptLanguage, error) {
	tracks, err := s.listTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}

	languages := make([]domain.TranscriptLanguage, 0, len(tracks))
	for _, track := range tracks {
		languages = append(languages, domain.TranscriptLanguage{
			Code:          track.LanguageCode,
			AutoGenerated: track.AutoGenerated(),
		})
	}
	s.logger.Debug("caption tracks listed",
		zap.String("video_id", videoID),
		zap.Int("tracks", len(languages)))
	return languages, nil
}

// FetchTranscript downloads the caption track matching language and kind.
// Segment normalization happens in the engine fetcher so fake origins share
// it.
func (s *Service) FetchTranscript(ctx context.Context, videoID, language string, autoGenerated bool) (*domain.Transcript, error) {
	tracks, err := s.listTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}

	var match *CaptionTrack
	for i := range tracks {
		if tracks[i].LanguageCode == language && tracks[i].AutoGenerated() == autoGenerated {
			match = &tracks[i]
			break
		}
	}
	if match == nil {
		return nil, apperrors.New(domain.CategoryTranscriptUnavailable,
			fmt.Sprintf("no %s caption track (auto=%v) for video %s", language, autoGenerated, videoID))
	}

	if !s.breaker.CanExecute() {
		return nil, s.circuitOpenErr()
	}
	segments, err := s.fetchTrack(ctx, *match)
	s.record(err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s track: %w", language, err)
	}

	s.forget(videoID)
	return &domain.Transcript{
		VideoID:       videoID,
		Language:      language,
		AutoGenerated: autoGenerated,
		Segments:      segments,
	}, nil
}

// listTracks returns the cached track listing or scrapes the watch page.
func (s *Service) listTracks(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	s.tracksMu.Lock()
	cached, ok := s.tracks[videoID]
	s.tracksMu.Unlock()
	if ok {
		return cached, nil
	}

	if !s.breaker.CanExecute() {
		return nil, s.circuitOpenErr()
	}

	tracks, err := s.fetchCaptionTracks(ctx, videoID)
	s.record(err)
	if err != nil {
		return nil, err
	}

	s.tracksMu.Lock()
	s.tracks[videoID] = tracks
	s.tracksMu.Unlock()
	return tracks, nil
}

// forget drops the cached track listing once the video is finished.
func (s *Service) forget(videoID string) {
	s.tracksMu.Lock()
	delete(s.tracks, videoID)
	s.tracksMu.Unlock()
}

func (s *Service) circuitOpenErr() error {
	return apperrors.New(domain.CategoryRateLimited, "transcript source circuit open").
		WithUserMessage("the transcript source is cooling down after repeated failures")
}

// record feeds the breaker. Terminal per-video conditions (no captions,
// private video) are not upstream failures and do not trip it.
func (s *Service) record(err error) {
	if err == nil {
		s.breaker.RecordSuccess()
		return
	}
	if cat, ok := apperrors.CategoryOf(err); ok && cat.Terminal() {
		return
	}
	s.breaker.RecordFailure()
}
