package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

// Policy bounds how many times a compare-and-swap operation is re-run.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

// DefaultPolicy matches the engine defaults (three attempts, short backoff).
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 25 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Jitter: 10 * time.Millisecond}
}

func (p Policy) backoff() goretry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.Jitter > 0 {
		b = goretry.WithJitter(p.Jitter, b)
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. VERSION_CONFLICT and TIMEOUT are retried; on
// exhaustion a version conflict surfaces as CONFLICT and a timeout as TIMEOUT.
// fn must re-read whatever state it depends on each time it is called.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	err := goretry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	return exhausted(err)
}

func retryable(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeVersionConflict, pkgerrors.CodeTimeout:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func exhausted(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "operation timed out")
	}
	if pkgerrors.Is(err, pkgerrors.CodeVersionConflict) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "record kept changing, retry the request")
	}
	return err
}
