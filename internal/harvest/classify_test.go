package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/kapu/yt-harvester-go/internal/domain"
	apperrors "github.com/kapu/yt-harvester-go/pkg/errors"
)

func TestClassifyTaggedErrors(t *testing.T) {
	err := apperrors.New(domain.CategoryTranscriptUnavailable, "no captions for video")
	cls := Classify(err)
	if cls.Category != domain.CategoryTranscriptUnavailable {
		t.Fatalf("category = %v, want TRANSCRIPT_UNAVAILABLE", cls.Category)
	}
	if cls.Retryable || !cls.Terminal {
		t.Fatalf("traits wrong: retryable=%v terminal=%v", cls.Retryable, cls.Terminal)
	}

	wrapped := fmt.Errorf("fetch transcript: %w", err)
	if got := Classify(wrapped).Category; got != domain.CategoryTranscriptUnavailable {
		t.Fatalf("wrapped category = %v", got)
	}
}

func TestClassifyAPIErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *googleapi.Error
		want domain.ErrorCategory
	}{
		{"quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, domain.CategoryQuotaExceeded},
		{"user rate", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, domain.CategoryRateLimited},
		{"forbidden", &googleapi.Error{Code: 403}, domain.CategoryPermission},
		{"not found", &googleapi.Error{Code: 404}, domain.CategoryPrivateOrRemoved},
		{"too many", &googleapi.Error{Code: 429}, domain.CategoryRateLimited},
		{"server", &googleapi.Error{Code: 503}, domain.CategoryNetwork},
		{"bad request", &googleapi.Error{Code: 400}, domain.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err).Category; got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded).Category; got != domain.CategoryTimeout {
		t.Fatalf("deadline = %v, want TIMEOUT", got)
	}
	cls := Classify(context.Canceled)
	if cls.Retryable {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want domain.ErrorCategory
	}{
		{"connection reset by peer", domain.CategoryNetwork},
		{"dial tcp: i/o timeout", domain.CategoryTimeout},
		{"HTTP 429 too many requests", domain.CategoryRateLimited},
		{"captions disabled for this video", domain.CategoryTranscriptUnavailable},
		{"private video", domain.CategoryPrivateOrRemoved},
		{"invalid url: not a channel link", domain.CategoryValidation},
		{"something inexplicable happened", domain.CategoryUnknown},
	}

	for _, tt := range tests {
		if got := Classify(errors.New(tt.msg)).Category; got != tt.want {
			t.Fatalf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
