package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/devrelay/internal/retry"
	"github.com/coral-mesh/devrelay/pkg/version"
)

// ReadyPolicy bounds readiness polling: Attempts probes spaced Interval
// apart, each limited to ProbeTimeout.
type ReadyPolicy struct {
	Path         string
	Attempts     int
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// PollReady probes url until it answers with a 2xx status. It fails with
// ErrProcessExited as soon as exited is closed, with ErrNotReady once the
// attempts are used up, or with the context error if ctx ends first.
func PollReady(
	ctx context.Context,
	client *http.Client,
	url string,
	policy ReadyPolicy,
	exited <-chan struct{},
	logger zerolog.Logger,
) error {
	cfg := retry.Config{
		MaxAttempts: policy.Attempts,
		Interval:    policy.Interval,
		Abort:       exited,
		OnRetry: func(attempt int, err error) {
			logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", policy.Attempts).
				Str("url", url).
				Msg("DevTools endpoint not ready yet")
		},
	}

	err := retry.Do(ctx, cfg, func() error {
		return probe(ctx, client, url, policy.ProbeTimeout)
	}, nil)

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, retry.ErrAborted):
		return ErrProcessExited
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &exhausted):
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrNotReady, url, exhausted.Attempts, exhausted.Err)
	default:
		return err
	}
}

func probe(ctx context.Context, client *http.Client, url string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
