package client

import (
	"context"
	"errors"
	"time"
)

// ErrPollBudgetExhausted is returned when the attempt ceiling is reached
// without the poll function reporting done.
var ErrPollBudgetExhausted = errors.New("poll attempt budget exhausted")

const (
	DefaultPollInterval    = 2000 * time.Millisecond
	DefaultMaxPollAttempts = 450
)

// Poller runs a poll function sequentially: each attempt completes before
// the next delay starts, so slow responses stretch the schedule instead of
// overlapping requests.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

func NewPoller(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPollAttempts
	}
	return &Poller{Interval: interval, MaxAttempts: maxAttempts}
}

// Run invokes fn up to MaxAttempts times. fn returns done=true to stop.
// A non-nil error from fn stops immediately; context cancellation stops
// between attempts. Exhausting the budget returns ErrPollBudgetExhausted.
func (p *Poller) Run(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return ErrPollBudgetExhausted
}
