package yutori

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 3 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 10 * time.Minute
)

// ErrTaskFailed is returned when a task finishes in the failed state.
var ErrTaskFailed = eris.New("yutori: task failed")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) { c.initial = d }
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) { c.cap = d }
}

// WithPollTimeout overrides the default timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.timeout = d }
}

// PollTask polls GetTask until the task succeeds, fails, or the context
// expires. Backoff: 3s -> 6s -> 12s -> 15s (capped).
func PollTask(ctx context.Context, client Client, id string, opts ...PollOption) (*Task, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok && cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		task, err := client.GetTask(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "yutori: poll task %s", id)
		}

		switch task.Status {
		case StatusSucceeded:
			return task, nil
		case StatusFailed:
			return nil, eris.Wrapf(ErrTaskFailed, "task %s: %s", id, task.Error)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "yutori: poll task %s timed out", id)
		case <-timer.C:
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
