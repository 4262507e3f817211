package telegram

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentrelay/relay/internal/metrics"
)

// maxAttempts bounds both the rate-limit retry-after loop and the
// transient-error exponential-backoff loop, per spec.md §6: "up to 5
// attempts with the retry-after returned by the platform, else
// exponential backoff".
const maxAttempts = 5

// do performs method against the Bot API, retrying per spec.md §6's
// policy: a 429 response sleeps exactly its retry_after and is
// retried; 5xx responses and network errors use exponential backoff;
// all other errors (4xx without retry parameters) are returned
// immediately.
func (c *Client) do(ctx context.Context, method string, payload any, result any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := c.call(ctx, method, payload, result)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			metrics.TelegramRateLimitRetry.WithLabelValues(method).Inc()
			if sleepErr := sleepCtx(ctx, apiErr.RetryAfter); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if !isTransient(err) {
			metrics.TelegramSendErrors.WithLabelValues(method).Inc()
			return err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	metrics.TelegramSendErrors.WithLabelValues(method).Inc()
	return lastErr
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 && apiErr.Code <= 599
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
