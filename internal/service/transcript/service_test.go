package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/util"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", `{"a":1};var next=2`, `{"a":1}`},
		{"nested", `{"a":{"b":[1,2]}};`, `{"a":{"b":[1,2]}}`},
		{"braces in strings", `{"a":"}{"};rest`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"\"}"};`, `{"a":"\"}"}`},
		{"not an object", `var x = 1`, ""},
		{"unbalanced", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.input); got != tt.want {
				t.Fatalf("extractJSONObject(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// seedTracks primes the per-video track cache so tests exercise the
// timedtext path without scraping a live watch page.
func seedTracks(s *Service, videoID string, tracks ...CaptionTrack) {
	s.tracksMu.Lock()
	s.tracks[videoID] = tracks
	s.tracksMu.Unlock()
}

func TestFetchTranscriptParsesTimedtext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") != "json3" {
			t.Errorf("missing fmt=json3 in %s", r.URL)
		}
		w.Write([]byte(`{"events":[
			{"tStartMs":0,"dDurationMs":1500,"segs":[{"utf8":"hello "},{"utf8":"world"}]},
			{"tStartMs":1500,"dDurationMs":2000},
			{"tStartMs":3500,"dDurationMs":1000,"segs":[{"utf8":"again"}]}
		]}`))
	}))
	defer server.Close()

	s := NewService(zap.NewNop())
	seedTracks(s, "vid1", CaptionTrack{BaseURL: server.URL + "/api/timedtext?v=vid1", LanguageCode: "en"})

	tr, err := s.FetchTranscript(context.Background(), "vid1", "en", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr.Language != "en" || tr.AutoGenerated {
		t.Fatalf("track metadata wrong: %+v", tr)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d, want 2 (empty event dropped)", len(tr.Segments))
	}
	if tr.Segments[0].Text != "hello world" || tr.Segments[1].StartSec != 3.5 {
		t.Fatalf("segments wrong: %+v", tr.Segments)
	}
}

func TestFetchTranscriptMissingTrack(t *testing.T) {
	s := NewService(zap.NewNop())
	seedTracks(s, "vid1", CaptionTrack{BaseURL: "http://unused", LanguageCode: "ja"})

	_, err := s.FetchTranscript(context.Background(), "vid1", "en", false)
	if err == nil {
		t.Fatal("expected error for missing track")
	}
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryTranscriptUnavailable {
		t.Fatalf("category = %v, want TRANSCRIPT_UNAVAILABLE", cat)
	}
}

func TestFetchTranscriptMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := NewService(zap.NewNop())
	seedTracks(s, "vid1", CaptionTrack{BaseURL: server.URL, LanguageCode: "en"})

	_, err := s.FetchTranscript(context.Background(), "vid1", "en", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryTranscriptUnavailable {
		t.Fatalf("category = %v, want TRANSCRIPT_UNAVAILABLE", cat)
	}
}

func TestBreakerOpensAfterRepeatedUpstreamFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewService(zap.NewNop())
	for i := 0; i < 10; i++ {
		seedTracks(s, "vid1", CaptionTrack{BaseURL: server.URL, LanguageCode: "en"})
		s.FetchTranscript(context.Background(), "vid1", "en", false)
	}
	if s.breaker.State() != util.CircuitStateOpen {
		t.Fatalf("breaker state = %v, want OPEN", s.breaker.State())
	}

	_, err := s.FetchTranscript(context.Background(), "vid1", "en", false)
	if cat, _ := apperrors.CategoryOf(err); cat != domain.CategoryRateLimited {
		t.Fatalf("fail-fast category = %v, want RATE_LIMITED", cat)
	}
}

func TestTerminalFailuresDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := NewService(zap.NewNop())
	for i := 0; i < 10; i++ {
		seedTracks(s, "vid1", CaptionTrack{BaseURL: server.URL, LanguageCode: "en"})
		s.FetchTranscript(context.Background(), "vid1", "en", false)
	}
	if s.breaker.State() != util.CircuitStateClosed {
		t.Fatalf("breaker state = %v, want CLOSED", s.breaker.State())
	}
}
