package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ndbctl/internal/defaults"
	"ndbctl/internal/ssh"
)

// Poll bounds a readiness wait.
type Poll struct {
	Interval time.Duration // initial interval (default: 2s)
	Timeout  time.Duration // total budget (default: 2m)
}

func (p Poll) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaults.PollInterval
	if p.Interval > 0 {
		b.InitialInterval = p.Interval
	}
	b.MaxInterval = 5 * b.InitialInterval
	b.MaxElapsedTime = defaults.LeaderTimeout
	if p.Timeout > 0 {
		b.MaxElapsedTime = p.Timeout
	}
	return backoff.WithContext(b, ctx)
}

// waitFor polls probe until it reports ready. Connection failures are not
// retried.
func waitFor(ctx context.Context, p Poll, what string, probe func(ctx context.Context) (bool, error)) error {
	attempts := 0
	op := func() error {
		attempts++
		ok, err := probe(ctx)
		if err != nil {
			var connErr *ssh.ConnectionError
			if errors.As(err, &connErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !ok {
			return fmt.Errorf("%s not ready", what)
		}
		return nil
	}

	if err := backoff.Retry(op, p.backOff(ctx)); err != nil {
		return fmt.Errorf("%s did not become ready after %d attempts: %w", what, attempts, err)
	}
	return nil
}
