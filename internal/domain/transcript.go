package domain

import "strings"

// TranscriptLanguage names one caption track a video offers.
type TranscriptLanguage struct {
	Code          string `json:"code"`
	AutoGenerated bool   `json:"auto_generated"`
}

// Segment is a single timed caption line.
type Segment struct {
	Text        string  `json:"text"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
}

// Transcript holds the full caption track fetched for one video.
// Segment start times are monotonically non-decreasing.
type Transcript struct {
	VideoID       string    `json:"video_id"`
	Language      string    `json:"language"`
	AutoGenerated bool      `json:"auto_generated"`
	Segments      []Segment `json:"segments"`
}

// WordCount counts whitespace-separated tokens across all segments.
func (t *Transcript) WordCount() int {
	if t == nil {
		return 0
	}
	count := 0
	for _, seg := range t.Segments {
		count += len(strings.Fields(seg.Text))
	}
	return count
}

// PlainText joins all segment texts with single spaces.
func (t *Transcript) PlainText() string {
	if t == nil || len(t.Segments) == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}
