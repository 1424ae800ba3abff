// Package poll holds the single refresh policy shared by every loop that keeps
// live data fresh: the sensor feed reconnect cycle, the threshold monitor and
// the graph refresh cadence.
package poll

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how often a loop runs.
//
// Interval is the delay after a successful run. Jitter adds up to that much
// random delay to spread loops started together. When MaxBackoff is greater
// than Interval, consecutive failures double the delay up to MaxBackoff;
// otherwise failures are retried at the plain interval.
type Policy struct {
	Interval   time.Duration
	Jitter     time.Duration
	MaxBackoff time.Duration
}

const (
	// FeedInterval is the live feed reconnect period.
	FeedInterval = 5 * time.Second
	// AlertInterval is the threshold check period.
	AlertInterval = 30 * time.Second
	// LiveGraphInterval refreshes the day-window graphs.
	LiveGraphInterval = 10 * time.Second
	// HistoryGraphInterval refreshes week and month graphs.
	HistoryGraphInterval = 60 * time.Second
	// NotificationsInterval refreshes the notification list.
	NotificationsInterval = 30 * time.Second
)

var (
	errIntervalRequired = errors.New("poll interval must be positive")
	errNegativeJitter   = errors.New("poll jitter cannot be negative")
)

// Every returns a policy with a fixed interval and no jitter or backoff.
func Every(d time.Duration) Policy {
	return Policy{Interval: d}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return errIntervalRequired
	}
	if p.Jitter < 0 {
		return errNegativeJitter
	}
	return nil
}

// Delay returns the wait before the next run after the given number of
// consecutive failures.
func (p Policy) Delay(failures int) time.Duration {
	d := p.Interval
	if failures > 0 && p.MaxBackoff > p.Interval {
		for i := 0; i < failures && d < p.MaxBackoff; i++ {
			d *= 2
		}
		if d > p.MaxBackoff {
			d = p.MaxBackoff
		}
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// Run calls fn immediately and then after every policy delay until ctx is
// done. Errors returned by fn count as failures for backoff and are passed to
// onError when it is non-nil; they never stop the loop.
func Run(ctx context.Context, p Policy, fn func(context.Context) error, onError func(error)) error {
	if err := p.Validate(); err != nil {
		return err
	}

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if onError != nil {
				onError(err)
			}
		} else {
			failures = 0
		}

		timer.Reset(p.Delay(failures))
	}
}
