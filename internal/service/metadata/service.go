package metadata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// Service is the YouTube Data API v3 metadata origin. Quota accounting is
// NOT done here; callers reserve units against the tracker before invoking
// any method, using the declared costs in constants.QuotaCosts.
type Service struct {
	service *youtube.Service
	logger  *zap.Logger
}

// NewService creates an API-key backed metadata origin.
func NewService(ctx context.Context, apiKey string, logger *zap.Logger) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("YouTube API key is required")
	}

	svc, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	logger.Info("YouTube metadata origin initialized", zap.String("auth", "api_key"))
	return &Service{service: svc, logger: logger}, nil
}

// newWithService wraps a pre-built client (used by the OAuth constructor).
func newWithService(svc *youtube.Service, logger *zap.Logger) *Service {
	return &Service{service: svc, logger: logger}
}

// ResolveChannel looks a channel up by canonical id or handle.
func (s *Service) ResolveChannel(ctx context.Context, ref domain.ChannelRef) (*domain.Channel, error) {
	call := s.service.Channels.List([]string{"snippet", "statistics", "contentDetails"})
	switch ref.Kind {
	case domain.RefKindID:
		call = call.Id(ref.Input)
	case domain.RefKindHandle:
		call = call.ForHandle(ref.Input)
	default:
		return nil, apperrors.New(domain.CategoryValidation,
			fmt.Sprintf("unresolvable channel reference %q", ref.Input))
	}

	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list: %w", err)
	}
	if len(response.Items) == 0 {
		return nil, apperrors.New(domain.CategoryValidation,
			fmt.Sprintf("channel %q not found", ref.Input)).
			WithUserMessage("the channel does not exist or the reference is wrong")
	}

	item := response.Items[0]
	channel := &domain.Channel{
		ID:    item.Id,
		Title: item.Snippet.Title,
	}
	if item.Statistics != nil {
		subs := item.Statistics.SubscriberCount
		vids := item.Statistics.VideoCount
		channel.SubscriberCount = &subs
		channel.VideoCount = &vids
	}
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		channel.UploadsListID = item.ContentDetails.RelatedPlaylists.Uploads
	}

	s.logger.Debug("channel resolved",
		zap.String("input", ref.Input),
		zap.String("channel_id", channel.ID),
		zap.String("title", channel.Title))
	return channel, nil
}

// ListVideos pulls one page of the channel's uploads playlist and hydrates
// it with video details (duration, live state, privacy).
func (s *Service) ListVideos(ctx context.Context, channel *domain.Channel, pageToken string) (*domain.VideoPage, error) {
	if channel.UploadsListID == "" {
		return nil, apperrors.New(domain.CategoryValidation,
			fmt.Sprintf("channel %s has no uploads playlist", channel.ID))
	}

	call := s.service.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(channel.UploadsListID).
		MaxResults(constants.MetadataConfig.PageSize)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("playlistItems.list: %w", err)
	}

	ids := make([]string, 0, len(response.Items))
	for _, item := range response.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}

	page := &domain.VideoPage{NextPageToken: response.NextPageToken}
	if len(ids) == 0 {
		return page, nil
	}

	details, err := s.service.Videos.List([]string{"snippet", "contentDetails", "status", "liveStreamingDetails"}).
		Id(ids...).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list: %w", err)
	}

	for _, item := range details.Items {
		video := &domain.Video{
			ID:        item.Id,
			ChannelID: channel.ID,
			Title:     item.Snippet.Title,
			IsLive:    item.Snippet.LiveBroadcastContent == "live" || item.Snippet.LiveBroadcastContent == "upcoming",
		}
		if item.Status != nil {
			video.IsPrivate = item.Status.PrivacyStatus == "private"
		}
		if ts, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = ts
		}
		if item.ContentDetails != nil && item.ContentDetails.Duration != "" {
			if d, err := parseISODuration(item.ContentDetails.Duration); err == nil {
				sec := int(d.Seconds())
				video.DurationSec = &sec
			}
		}
		page.Videos = append(page.Videos, video)
	}

	s.logger.Debug("video page listed",
		zap.String("channel_id", channel.ID),
		zap.Int("videos", len(page.Videos)),
		zap.Bool("has_next", page.NextPageToken != ""))
	return page, nil
}
