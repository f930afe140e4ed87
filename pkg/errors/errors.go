package errors

import (
	"errors"
	"fmt"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

// HarvestError is the error value crossing component boundaries. It carries
// the closed category, a user-facing message, and optional structured context.
type HarvestError struct {
	Category    domain.ErrorCategory
	Message     string
	UserMessage string
	Context     map[string]any
	Cause       error
}

func (e *HarvestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *HarvestError) Unwrap() error {
	return e.Cause
}

// New creates a HarvestError with the given category and message.
func New(category domain.ErrorCategory, message string) *HarvestError {
	return &HarvestError{
		Category:    category,
		Message:     message,
		UserMessage: message,
	}
}

// Wrap attaches a category to an underlying cause.
func Wrap(category domain.ErrorCategory, message string, cause error) *HarvestError {
	return &HarvestError{
		Category:    category,
		Message:     message,
		UserMessage: message,
		Cause:       cause,
	}
}

// WithUserMessage overrides the user-facing message.
func (e *HarvestError) WithUserMessage(msg string) *HarvestError {
	e.UserMessage = msg
	return e
}

// WithContext attaches structured context for observers.
func (e *HarvestError) WithContext(key string, value any) *HarvestError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CategoryOf extracts the category from err if it is (or wraps) a
// HarvestError; otherwise returns UNKNOWN and false.
func CategoryOf(err error) (domain.ErrorCategory, bool) {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Category, true
	}
	return domain.CategoryUnknown, false
}

// UserMessageOf returns the user-facing message of err, falling back to
// err.Error().
func UserMessageOf(err error) string {
	var he *HarvestError
	if errors.As(err, &he) && he.UserMessage != "" {
		return he.UserMessage
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// QuotaExceededError signals daily unit budget exhaustion. It wraps
// HarvestError semantics with the reservation details callers need to decide
// between waiting for reset and failing the channel.
type QuotaExceededError struct {
	Used      int
	Limit     int
	Requested int
	ResetAt   string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: used %d/%d (requested %d more), resets at %s",
		e.Used, e.Limit, e.Requested, e.ResetAt)
}
