package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/dmchat/internal/logger"
)

const maxBackoff = 30 * time.Second

// initialBackoff is the first pause between attempts.
var initialBackoff = 2 * time.Second

// retry calls connect until it succeeds, maxWait elapses or ctx ends. The
// pause doubles after every failure.
func retry(ctx context.Context, what string, maxWait time.Duration, connect func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
