package harvest

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

// Classification is the pure mapping of a raw error onto the closed category
// set plus its recovery traits.
type Classification struct {
	Category    domain.ErrorCategory
	UserMessage string
	Retryable   bool
	Terminal    bool
}

func classification(category domain.ErrorCategory, userMessage string) Classification {
	return Classification{
		Category:    category,
		UserMessage: userMessage,
		Retryable:   category.Retryable(),
		Terminal:    category.Terminal(),
	}
}

// Classify maps any error crossing a component boundary to a category.
// Typed errors win over string matching; unmatched errors are UNKNOWN.
func Classify(err error) Classification {
	if err == nil {
		return classification(domain.CategoryUnknown, "")
	}

	// Tagged errors carry their category already.
	var he *apperrors.HarvestError
	if errors.As(err, &he) {
		c := classification(he.Category, he.UserMessage)
		return c
	}
	var qe *apperrors.QuotaExceededError
	if errors.As(err, &qe) {
		return classification(domain.CategoryQuotaExceeded, qe.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classification(domain.CategoryTimeout, "operation timed out")
	}
	if errors.Is(err, context.Canceled) {
		c := classification(domain.CategoryUnknown, "operation cancelled")
		c.Retryable = false
		return c
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classification(domain.CategoryTimeout, "network operation timed out")
		}
		return classification(domain.CategoryNetwork, "network error contacting origin")
	}

	return classifyMessage(err.Error())
}

// classifyAPIError maps YouTube Data API error codes and reasons.
func classifyAPIError(apiErr *googleapi.Error) Classification {
	switch apiErr.Code {
	case 400:
		return classification(domain.CategoryValidation, "the request was rejected as invalid")
	case 401:
		return classification(domain.CategoryPermission, "API credentials were rejected")
	case 403:
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "quotaExceeded", "dailyLimitExceeded":
				return classification(domain.CategoryQuotaExceeded, "daily API quota exhausted")
			case "rateLimitExceeded", "userRateLimitExceeded":
				return classification(domain.CategoryRateLimited, "API rate limit hit")
			case "forbidden", "channelForbidden", "videoForbidden":
				return classification(domain.CategoryPermission, "access to the resource is forbidden")
			}
		}
		return classification(domain.CategoryPermission, "access to the resource is forbidden")
	case 404:
		return classification(domain.CategoryPrivateOrRemoved, "the resource no longer exists")
	case 429:
		return classification(domain.CategoryRateLimited, "API rate limit hit")
	case 500, 502, 503, 504:
		return classification(domain.CategoryNetwork, "origin reported a server error")
	}
	return classification(domain.CategoryUnknown, apiErr.Message)
}

// classifyMessage falls back to string patterns for errors raised by
// transports that do not expose typed failures.
func classifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)

	switch {
	case contains(lower, "quota"):
		return classification(domain.CategoryQuotaExceeded, "daily API quota exhausted")
	case contains(lower, "429", "too many requests", "rate limit", "throttled"):
		return classification(domain.CategoryRateLimited, "rate limited by origin")
	case contains(lower, "timeout", "timed out", "deadline exceeded"):
		return classification(domain.CategoryTimeout, "operation timed out")
	case contains(lower, "captions disabled", "no transcript", "transcript unavailable", "no captions", "caption track not found"):
		return classification(domain.CategoryTranscriptUnavailable, "no transcript is available for this video")
	case contains(lower, "private video", "video unavailable", "video not available", "removed", "deleted", "no longer available"):
		return classification(domain.CategoryPrivateOrRemoved, "the video is private or has been removed")
	case contains(lower, "403", "forbidden", "permission", "access denied", "unauthorized", "401"):
		return classification(domain.CategoryPermission, "access to the resource was denied")
	case contains(lower, "invalid channel", "invalid url", "malformed", "not a valid", "unsupported url"):
		return classification(domain.CategoryValidation, "the channel reference is not valid")
	case contains(lower, "connection reset", "connection refused", "no route to host", "network unreachable", "dns", "eof", "broken pipe", "500", "502", "503", "504", "bad gateway", "service unavailable"):
		return classification(domain.CategoryNetwork, "network error contacting origin")
	}

	return classification(domain.CategoryUnknown, msg)
}

func contains(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
