package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// fakeMetadata is an in-memory MetadataOrigin. Channels are registered by
// input (id or handle); uploads are served in pages of pageSize.
type fakeMetadata struct {
	channels map[string]*domain.Channel
	videos   map[string][]*domain.Video
	pageSize int

	resolveCalls map[string]int
	listCalls    map[string]int
	mu           sync.Mutex
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		channels:     make(map[string]*domain.Channel),
		videos:       make(map[string][]*domain.Video),
		pageSize:     2,
		resolveCalls: make(map[string]int),
		listCalls:    make(map[string]int),
	}
}

// addChannel registers a channel with n plain videos.
func (f *fakeMetadata) addChannel(input, id, title string, n int) {
	count := uint64(n)
	f.channels[input] = &domain.Channel{ID: id, Title: title, VideoCount: &count, UploadsListID: "UU" + id}
	videos := make([]*domain.Video, 0, n)
	for i := 1; i <= n; i++ {
		videos = append(videos, &domain.Video{
			ID:          fmt.Sprintf("%s-v%d", id, i),
			ChannelID:   id,
			Title:       fmt.Sprintf("Video %d", i),
			PublishedAt: time.Date(2024, 1, i%28+1, 0, 0, 0, 0, time.UTC),
		})
	}
	f.videos[id] = videos
}

func (f *fakeMetadata) ResolveChannel(ctx context.Context, ref domain.ChannelRef) (*domain.Channel, error) {
	f.mu.Lock()
	f.resolveCalls[ref.Input]++
	ch, ok := f.channels[ref.Input]
	f.mu.Unlock()
	if !ok {
		return nil, apperrors.New(domain.CategoryValidation, "invalid channel: "+ref.Input)
	}
	copied := *ch
	return &copied, nil
}

func (f *fakeMetadata) ListVideos(ctx context.Context, channel *domain.Channel, pageToken string) (*domain.VideoPage, error) {
	f.mu.Lock()
	f.listCalls[channel.ID]++
	videos := f.videos[channel.ID]
	pageSize := f.pageSize
	f.mu.Unlock()

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "page-%d", &start)
	}
	end := start + pageSize
	if end > len(videos) {
		end = len(videos)
	}
	page := &domain.VideoPage{Videos: videos[start:end]}
	if end < len(videos) {
		page.NextPageToken = fmt.Sprintf("page-%d", end)
	}
	return page, nil
}

func (f *fakeMetadata) resolveCount(input string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls[input]
}

func (f *fakeMetadata) listCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[id]
}

// fakeTranscripts is an in-memory TranscriptOrigin. Per-video failure
// scripts run before the canned transcript is served.
type fakeTranscripts struct {
	errs       map[string]error // terminal error per video id
	transient  map[string]int   // remaining transient failures per video id
	rateLimits int              // global: first N fetches are RATE_LIMITED

	fetchCalls map[string]int
	totalCalls int
	mu         sync.Mutex
}

func newFakeTranscripts() *fakeTranscripts {
	return &fakeTranscripts{
		errs:       make(map[string]error),
		transient:  make(map[string]int),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeTranscripts) ListLanguages(ctx context.Context, videoID string) ([]domain.TranscriptLanguage, error) {
	return []domain.TranscriptLanguage{{Code: "en"}, {Code: "en", AutoGenerated: true}}, nil
}

func (f *fakeTranscripts) FetchTranscript(ctx context.Context, videoID, language string, autoGenerated bool) (*domain.Transcript, error) {
	f.mu.Lock()
	f.fetchCalls[videoID]++
	f.totalCalls++

	if f.rateLimits > 0 {
		f.rateLimits--
		f.mu.Unlock()
		return nil, apperrors.New(domain.CategoryRateLimited, "rate limited")
	}
	if err, ok := f.errs[videoID]; ok {
		f.mu.Unlock()
		return nil, err
	}
	if left := f.transient[videoID]; left > 0 {
		f.transient[videoID] = left - 1
		f.mu.Unlock()
		return nil, apperrors.New(domain.CategoryNetwork, "connection reset")
	}
	f.mu.Unlock()

	return &domain.Transcript{
		VideoID:       videoID,
		Language:      language,
		AutoGenerated: autoGenerated,
		Segments: []domain.Segment{
			{Text: "  hello  world ", StartSec: 0, DurationSec: 2},
			{Text: "", StartSec: 2, DurationSec: 1},
			{Text: "second line", StartSec: 4, DurationSec: 2},
		},
	}, nil
}

func (f *fakeTranscripts) calls(videoID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[videoID]
}

func (f *fakeTranscripts) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalCalls
}

func transcriptUnavailable(videoID string) error {
	return apperrors.New(domain.CategoryTranscriptUnavailable, "no captions for "+videoID)
}

func permissionDenied() error {
	return apperrors.New(domain.CategoryPermission, "output directory not writable")
}

// fakeSink records exports in memory.
type fakeSink struct {
	exports map[string]string
	mu      sync.Mutex
}

func newFakeSink() *fakeSink {
	return &fakeSink{exports: make(map[string]string)}
}

func (f *fakeSink) Export(ctx context.Context, channel *domain.Channel, video *domain.Video, transcript *domain.Transcript) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := "mem://" + channel.ID + "/" + video.ID
	f.exports[video.ID] = transcript.PlainText()
	return path, nil
}

func (f *fakeSink) exported(videoID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.exports[videoID]
	return text, ok
}
