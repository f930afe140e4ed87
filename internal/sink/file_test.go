package sink

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

func fixtures() (*domain.Channel, *domain.Video, *domain.Transcript) {
	channel := &domain.Channel{ID: "UC1", Title: "Some / Channel"}
	video := &domain.Video{ID: "vid1", ChannelID: "UC1", Title: "Episode 1", PublishedAt: time.Now()}
	transcript := &domain.Transcript{
		VideoID:  "vid1",
		Language: "en",
		Segments: []domain.Segment{
			{Text: "hello there", StartSec: 0, DurationSec: 2},
			{Text: "general remarks", StartSec: 2, DurationSec: 3},
		},
	}
	return channel, video, transcript
}

func TestTextExport(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "text", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	channel, video, transcript := fixtures()
	path, err := s.Export(context.Background(), channel, video, transcript)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "hello there") || !strings.Contains(content, "[0:02]") {
		t.Fatalf("unexpected content:\n%s", content)
	}
	if strings.Contains(path, "/Some / Channel/") {
		t.Fatal("channel directory not sanitized")
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "json", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	channel, video, transcript := fixtures()
	path, err := s.Export(context.Background(), channel, video, transcript)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse exported json: %v", err)
	}
	if doc.VideoID != "vid1" || len(doc.Segments) != 2 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestExportIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileSink(dir, "text", zap.NewNop())

	channel, video, transcript := fixtures()
	first, err := s.Export(context.Background(), channel, video, transcript)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Export(context.Background(), channel, video, transcript)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := NewFileSink(t.TempDir(), "yaml", zap.NewNop()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
