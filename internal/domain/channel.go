package domain

import "time"

// RefKind tells how a user-supplied channel identifier should be resolved.
type RefKind string

const (
	RefKindURL    RefKind = "URL"
	RefKindHandle RefKind = "HANDLE"
	RefKindID     RefKind = "ID"
)

// ChannelRef is the immutable input token naming one channel.
type ChannelRef struct {
	Input string  `json:"input"`
	Kind  RefKind `json:"kind"`
}

// Channel represents a resolved YouTube channel. Produced exclusively by the
// resolver; ID is the canonical identifier used for dedup and ownership.
type Channel struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	SubscriberCount *uint64 `json:"subscriber_count,omitempty"`
	VideoCount      *uint64 `json:"video_count,omitempty"`
	UploadsListID   string  `json:"uploads_list_id,omitempty"`
}

// Video is one upload of a channel. One instance per video id.
type Video struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	DurationSec *int      `json:"duration_sec,omitempty"`
	IsLive      bool      `json:"is_live"`
	IsPrivate   bool      `json:"is_private"`
}

// VideoPage is one page of a channel's uploads, pulled on demand.
type VideoPage struct {
	Videos        []*Video `json:"videos"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// WatchURL returns the canonical watch page URL for the video.
func (v *Video) WatchURL() string {
	if v == nil || v.ID == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + v.ID
}
