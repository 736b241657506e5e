package memory

import (
	"context"
	"time"

	"propflow.app/assist/common/llm"
)

const maxChatAttempts = 3

var initialBackoff = 500 * time.Millisecond

// chatWithRetry retries transient engine failures (rate limits, 5xx,
// network) with exponential backoff. Summaries and profile folds are
// background work, so a little patience beats losing the result.
func chatWithRetry(ctx context.Context, client llm.Client, req llm.Request, result any) (*llm.Response, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxChatAttempts; attempt++ {
		resp, err := client.Chat(ctx, req, result)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !llm.IsRetryable(ctx, err) {
			return nil, err
		}
		if attempt == maxChatAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, lastErr
}
