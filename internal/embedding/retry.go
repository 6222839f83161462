package embedding

import (
	"context"
	"time"

	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

const maxRetryDelay = 8 * time.Second

type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// withRetry runs fn until it succeeds, returns a non-transient error, or
// the retry budget is spent. Every failure is reported as an
// EncodingFailure carrying the attempt count.
func withRetry(ctx context.Context, provider, requestID string, policy retryPolicy, fn func() error) error {
	delay := policy.baseDelay
	attempts := 0
	for {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !errs.IsTransient(err) || attempts > policy.maxRetries {
			return &errs.EncodingFailure{Provider: provider, Attempts: attempts, Err: err}
		}

		logging.Warn("Retrying embedding request", map[string]interface{}{
			"provider":   provider,
			"request_id": requestID,
			"attempt":    attempts,
			"delay":      delay.String(),
			"error":      err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &errs.EncodingFailure{Provider: provider, Attempts: attempts, Err: ctx.Err()}
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}
