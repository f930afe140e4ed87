package domain

import (
	"fmt"
	"time"
)

// RateLimitSettings configures the adaptive limiter for one batch.
// Rates are tokens per second.
type RateLimitSettings struct {
	Base  float64 `json:"base"`
	Burst int     `json:"burst"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// TimeoutSettings bounds individual units of work. Batch is optional; zero
// means unbounded.
type TimeoutSettings struct {
	Video   time.Duration `json:"video"`
	Channel time.Duration `json:"channel"`
	Batch   time.Duration `json:"batch,omitempty"`
}

// BatchRequest is the full input of one harvesting run.
type BatchRequest struct {
	Channels            []ChannelRef      `json:"channels"`
	PreferredLanguages  []string          `json:"preferred_languages"`
	AllowAutoGenerated  bool              `json:"allow_auto_generated"`
	PublishedAfter      *time.Time        `json:"published_after,omitempty"`
	PublishedBefore     *time.Time        `json:"published_before,omitempty"`
	MaxVideosPerChannel int               `json:"max_videos_per_channel,omitempty"`
	SkipLiveStreams     bool              `json:"skip_live_streams"`
	SkipPrivate         bool              `json:"skip_private"`
	ChannelConcurrency  int               `json:"channel_concurrency"`
	VideoConcurrency    int               `json:"video_concurrency"`
	QuotaLimit          int               `json:"quota_limit"`
	RateLimit           RateLimitSettings `json:"rate_limit"`
	MemoryCeilingMB     int               `json:"memory_ceiling_mb"`
	Timeouts            TimeoutSettings   `json:"timeouts"`
	ResumeFrom          string            `json:"resume_from,omitempty"`
}

// Batch request bounds.
const (
	DefaultChannelConcurrency = 3
	MaxChannelConcurrency     = 10
	DefaultVideoConcurrency   = 5
	MaxVideoConcurrency       = 20
	DefaultQuotaLimit         = 10000
	DefaultMemoryCeilingMB    = 1024
	DefaultVideoTimeout       = 30 * time.Second
	DefaultTranscriptTimeout  = 60 * time.Second
	DefaultChannelTimeout     = 60 * time.Minute
)

// Normalize fills defaults and clamps concurrency bounds in place.
func (r *BatchRequest) Normalize() {
	if r.ChannelConcurrency <= 0 {
		r.ChannelConcurrency = DefaultChannelConcurrency
	}
	if r.ChannelConcurrency > MaxChannelConcurrency {
		r.ChannelConcurrency = MaxChannelConcurrency
	}
	if r.VideoConcurrency <= 0 {
		r.VideoConcurrency = DefaultVideoConcurrency
	}
	if r.VideoConcurrency > MaxVideoConcurrency {
		r.VideoConcurrency = MaxVideoConcurrency
	}
	if r.QuotaLimit <= 0 {
		r.QuotaLimit = DefaultQuotaLimit
	}
	if r.MemoryCeilingMB <= 0 {
		r.MemoryCeilingMB = DefaultMemoryCeilingMB
	}
	if r.RateLimit.Base <= 0 {
		r.RateLimit.Base = 1.0 // 60/min
	}
	if r.RateLimit.Burst <= 0 {
		r.RateLimit.Burst = 60
	}
	if r.RateLimit.Min <= 0 {
		r.RateLimit.Min = 0.1 // 6/min
	}
	if r.RateLimit.Max <= 0 {
		r.RateLimit.Max = 5.0 // 300/min
	}
	if r.Timeouts.Video <= 0 {
		r.Timeouts.Video = DefaultVideoTimeout
	}
	if r.Timeouts.Channel <= 0 {
		r.Timeouts.Channel = DefaultChannelTimeout
	}
	if len(r.PreferredLanguages) == 0 {
		r.PreferredLanguages = []string{"en"}
	}
}

// Validate checks request invariants after normalization. An empty channel
// list is legal and yields an immediate empty batch.
func (r *BatchRequest) Validate() error {
	for i, ref := range r.Channels {
		if ref.Input == "" {
			return fmt.Errorf("channel %d: empty input", i)
		}
	}
	if r.PublishedAfter != nil && r.PublishedBefore != nil && r.PublishedBefore.Before(*r.PublishedAfter) {
		return fmt.Errorf("published_before precedes published_after")
	}
	return nil
}

// BatchTotals aggregates video counters across channels.
type BatchTotals struct {
	Videos    int `json:"videos"`
	Processed int `json:"processed"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Skips     int `json:"skips"`
}

// BatchResult is produced exactly once when the batch completes.
type BatchResult struct {
	BatchID         string             `json:"batch_id"`
	Channels        []*ChannelProgress `json:"channels"`
	Totals          BatchTotals        `json:"totals"`
	QuotaUsed       int                `json:"quota_used"`
	DurationSec     float64            `json:"duration_sec"`
	MostCommonError ErrorCategory      `json:"most_common_error,omitempty"`
	Cancelled       bool               `json:"cancelled,omitempty"`
	FatalCause      string             `json:"fatal_cause,omitempty"`
}

// ExitCode maps the batch outcome to the process exit contract:
// 0 all channels DONE, 1 some failed/partial, 2 all failed, 3 cancelled,
// 4 quota exhaustion prevented progress.
func (r *BatchResult) ExitCode() int {
	if r.Cancelled {
		return 3
	}
	if len(r.Channels) == 0 {
		return 0
	}
	done, failed := 0, 0
	for _, ch := range r.Channels {
		switch ch.State {
		case ChannelDone:
			done++
		case ChannelFailed:
			failed++
		}
	}
	if done == len(r.Channels) {
		return 0
	}
	if failed == len(r.Channels) {
		if r.MostCommonError == CategoryQuotaExceeded {
			return 4
		}
		return 2
	}
	return 1
}
