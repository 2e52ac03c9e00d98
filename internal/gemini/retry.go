package gemini

import (
	"context"
	"log/slog"
	"time"

	"github.com/eniggman/geminigram/internal/session"
)

// Retry policy for the persistent-conversation send path only. One-shot
// calls (generation, editing, analysis) already carry their own
// timeouts and are reported once, not retried.
// MaxRetries is the number of ADDITIONAL attempts after the first.
const MaxRetries = 2

// retryStep scales the linear backoff: attempt index times this.
// Variable so tests can shrink the delay.
var retryStep = 3 * time.Second

// SendWithRetry delivers one conversation turn, retrying transient
// failures (429/500/503, timeouts, empty responses) with linearly
// increasing backoff. Non-transient failures and exhausted retries
// propagate immediately.
func SendWithRetry(ctx context.Context, chat session.Chat, text string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		out, err := chat.Send(ctx, text)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !Transient(err) || attempt == MaxRetries {
			return "", err
		}

		delay := time.Duration(attempt+1) * retryStep
		slog.Warn("conversation send retry",
			"attempt", attempt+1,
			"max", MaxRetries,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
