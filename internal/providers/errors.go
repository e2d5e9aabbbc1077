package providers

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by providers so callers can classify
// failures for the llm_logs status column.
var (
	ErrTimeout     = errors.New("llm request timed out")
	ErrRateLimited = errors.New("llm request rate limited")
)

// StatusFor maps a completion error to the llm_logs status value.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
