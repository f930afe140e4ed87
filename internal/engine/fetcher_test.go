package engine

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

type scriptedTranscripts struct {
	languages []domain.TranscriptLanguage
	listErr   error
	fetched   []string // "code/auto" in call order
	errs      map[string]error
}

func (s *scriptedTranscripts) ListLanguages(ctx context.Context, videoID string) ([]domain.TranscriptLanguage, error) {
	return s.languages, s.listErr
}

func (s *scriptedTranscripts) FetchTranscript(ctx context.Context, videoID, language string, autoGenerated bool) (*domain.Transcript, error) {
	key := language
	if autoGenerated {
		key += "/auto"
	}
	s.fetched = append(s.fetched, key)
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	return &domain.Transcript{
		VideoID:  videoID,
		Language: language,
		Segments: []domain.Segment{{Text: " a ", StartSec: 2}, {Text: "b", StartSec: 1}},
	}, nil
}

func TestFetcherPrefersManualInLanguageOrder(t *testing.T) {
	origin := &scriptedTranscripts{
		languages: []domain.TranscriptLanguage{
			{Code: "ja"},
			{Code: "en", AutoGenerated: true},
			{Code: "en"},
		},
	}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	tr, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en", "ja"}, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr.Language != "en" {
		t.Fatalf("language = %s, want en (manual preferred)", tr.Language)
	}
	if origin.fetched[0] != "en" {
		t.Fatalf("first fetch = %s, want manual en", origin.fetched[0])
	}
}

func TestFetcherFallsBackToAutoGenerated(t *testing.T) {
	origin := &scriptedTranscripts{
		languages: []domain.TranscriptLanguage{{Code: "en", AutoGenerated: true}},
	}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	tr, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en"}, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr == nil {
		t.Fatal("expected transcript from auto track")
	}

	// With auto disallowed the same video has no transcript.
	_, err = f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en"}, false)
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryTranscriptUnavailable {
		t.Fatalf("category = %v, want TRANSCRIPT_UNAVAILABLE", cat)
	}
}

func TestFetcherMatchesRegionalVariants(t *testing.T) {
	origin := &scriptedTranscripts{
		languages: []domain.TranscriptLanguage{{Code: "en-US"}},
	}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	tr, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en"}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr.Language != "en-US" {
		t.Fatalf("language = %s", tr.Language)
	}
}

func TestFetcherNoTracksAtAll(t *testing.T) {
	origin := &scriptedTranscripts{}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	_, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en"}, true)
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryTranscriptUnavailable {
		t.Fatalf("category = %v, want TRANSCRIPT_UNAVAILABLE", cat)
	}
}

func TestFetcherTerminalTrackFailureTriggersFallback(t *testing.T) {
	origin := &scriptedTranscripts{
		languages: []domain.TranscriptLanguage{
			{Code: "en"},
			{Code: "ja"},
		},
		errs: map[string]error{
			"en": apperrors.New(domain.CategoryTranscriptUnavailable, "track gone"),
		},
	}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	tr, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en", "ja"}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr.Language != "ja" {
		t.Fatalf("language = %s, want ja fallback", tr.Language)
	}
}

func TestFetcherTransientFailureSurfacesForRetry(t *testing.T) {
	origin := &scriptedTranscripts{
		languages: []domain.TranscriptLanguage{
			{Code: "en"},
			{Code: "ja"},
		},
		errs: map[string]error{
			"en": apperrors.New(domain.CategoryNetwork, "connection reset"),
		},
	}
	f := NewTranscriptFetcher(origin, zap.NewNop())

	_, err := f.Fetch(context.Background(), &domain.Video{ID: "v1"}, []string{"en", "ja"}, false)
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryNetwork {
		t.Fatalf("category = %v, want NETWORK surfaced (no silent fallback)", cat)
	}
	if len(origin.fetched) != 1 {
		t.Fatalf("fetched %v, want a single attempt", origin.fetched)
	}
}

func TestNormalizeSegments(t *testing.T) {
	tr := &domain.Transcript{Segments: []domain.Segment{
		{Text: "  first   line ", StartSec: 0},
		{Text: "   ", StartSec: 1},
		{Text: "out of order", StartSec: 0.5},
		{Text: "last", StartSec: 3},
	}}
	normalizeSegments(tr)

	if len(tr.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(tr.Segments))
	}
	if tr.Segments[0].Text != "first line" {
		t.Fatalf("text = %q", tr.Segments[0].Text)
	}
	last := 0.0
	for _, seg := range tr.Segments {
		if seg.StartSec < last {
			t.Fatalf("startSec regressed: %v < %v", seg.StartSec, last)
		}
		last = seg.StartSec
	}
}
