// File: internal/crawler/retry.go
package crawler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	retryBackoff  = 2 * time.Second
)

// withRetry runs op up to retryAttempts times with fixed backoff. Terminal
// signals (login, captcha, security restriction, stop) are never retried:
// they must reach the caller so a human or supervising process can
// intervene.
func withRetry(ctx context.Context, logger *zap.Logger, name string, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		// Typed outcomes are answers, not glitches: unavailable content and
		// exhausted results do not become less so on a second attempt.
		if isTerminalSignal(err) || errors.Is(err, ErrUnavailable) ||
			errors.Is(err, ErrEndOfResults) || ctx.Err() != nil {
			return err
		}
		if attempt < retryAttempts {
			logger.Warn("Operation failed, retrying.",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", retryBackoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return err
}
