package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
)

// Policy bounds the exponential backoff applied to transient faults. The
// zero value is not usable; construct with [NewPolicy] so defaults apply.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// sleep is replaced in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a Policy with the given bounds. Zero or negative values
// fall back to 3 attempts, 1s base delay, and a 30s cap.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		sleep:       sleepCtx,
	}
}

// Do runs fn up to the attempt bound, backing off between tries. Only
// transient fault kinds (NetworkError, RateLimited, TranscriptionTimeout)
// are retried; any other error, and the final transient error once attempts
// are exhausted, is returned as-is. Context cancellation aborts the wait and
// returns the context error.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := p.baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		kind := faults.KindOf(err)
		if !kind.Transient() || attempt >= p.maxAttempts {
			return err
		}
		slog.Debug("retrying after transient fault",
			"op", op,
			"kind", string(kind),
			"attempt", attempt,
			"delay", delay,
		)
		if serr := p.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
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
