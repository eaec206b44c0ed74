// Package retry runs idempotent operations with exponential backoff and no jitter.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 700 * time.Millisecond
)

// Policy describes how many times to try and how long to wait in between.
// The wait before retry i (0-based) is BaseDelay * 2^i.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration

	// timer is swapped in tests; nil means real time.
	timer backoff.Timer
}

// DefaultPolicy returns 3 attempts starting at 700ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = maxInterval(p.BaseDelay, p.Attempts)
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// maxInterval is the longest wait the policy can ask for, BaseDelay * 2^(attempts-1),
// saturating instead of overflowing.
func maxInterval(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}

// Do invokes fn until it succeeds or the policy is exhausted, and returns the
// last error unchanged. Only wrap operations that are safe to repeat.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	attempt := 0
	op := func() (T, error) {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"op":      name,
			"attempt": attempt,
			"of":      p.Attempts,
			"wait":    wait,
		}).WithError(err).Warn("attempt failed, retrying")
	}
	return backoff.RetryNotifyWithTimerAndData(op, p.backOff(ctx), notify, p.timer)
}
