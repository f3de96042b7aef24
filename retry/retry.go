/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package retry runs an operation until it succeeds, fails with a
// non-retryable error or a timeout elapses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults used by DefaultPolicy.
const (
	DefaultTimeout         = 120 * time.Second
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second

	// MinAttemptTimeout is the least time an attempt is given, so the final
	// attempt at the deadline can still complete.
	MinAttemptTimeout = 250 * time.Millisecond
)

// ErrTimeout matches every *TimeoutError with errors.Is.
var ErrTimeout = errors.New("retry timeout")

// Policy describes how Do retries.
type Policy struct {
	// Timeout bounds the whole loop. It must be positive.
	Timeout time.Duration

	// BackOff yields the wait between attempts. It is reset at the start
	// of Do; backoff.Stop ends the loop as if the timeout had elapsed.
	BackOff backoff.BackOff

	// Retryable lists the errors, matched with errors.Is, that lead to
	// another attempt. Any other error ends the loop immediately.
	Retryable []error

	// OnRetry, if set, is called after each retryable failure with the
	// attempt number and the wait before the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ExponentialBackOff returns an exponential backoff between initial and max
// with the library's default jitter.
func ExponentialBackOff(initial, maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	return b
}

// DefaultPolicy returns a policy with DefaultTimeout and an exponential
// backoff from DefaultInitialInterval to DefaultMaxInterval.
func DefaultPolicy(retryable ...error) Policy {
	return Policy{
		Timeout:   DefaultTimeout,
		BackOff:   ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval),
		Retryable: retryable,
	}
}

// IsRetryable reports whether err matches one of p.Retryable.
func (p Policy) IsRetryable(err error) bool {
	for _, target := range p.Retryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TimeoutError reports that no attempt succeeded within the policy timeout.
// It intentionally does not unwrap to Last, so a timeout can never be
// mistaken for one of the retryable errors.
type TimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gave up after %s (%d attempts, timeout %s): last error: %v",
		e.Elapsed.Round(time.Millisecond), e.Attempts, e.Timeout, e.Last)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Do calls op until it returns nil or a non-retryable error, sleeping
// between attempts as directed by p.BackOff. The last sleep is cut short at
// the deadline and followed by one final attempt. Each attempt runs under
// the loop deadline (at least MinAttemptTimeout), so a hung attempt cannot
// outlive the policy. When the deadline passes Do returns a *TimeoutError;
// when ctx is done it returns ctx.Err().
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.Timeout <= 0 {
		return fmt.Errorf("retry timeout must be positive, got %s", p.Timeout)
	}

	b := p.BackOff
	if b == nil {
		b = ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval)
	}
	b.Reset()

	start := time.Now()
	deadline := start.Add(p.Timeout)

	for attempt := 1; ; attempt++ {
		expired, err := runAttempt(ctx, deadline, op)
		if err == nil {
			return nil
		}
		if expired && ctx.Err() == nil {
			return &TimeoutError{
				Timeout:  p.Timeout,
				Elapsed:  time.Since(start),
				Attempts: attempt,
				Last:     err,
			}
		}
		if !p.IsRetryable(err) {
			return err
		}

		remaining := time.Until(deadline)
		wait := b.NextBackOff()
		if remaining <= 0 || wait == backoff.Stop {
			return &TimeoutError{
				Timeout:  p.Timeout,
				Elapsed:  time.Since(start),
				Attempts: attempt,
				Last:     err,
			}
		}
		if wait > remaining {
			wait = remaining
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runAttempt calls op under the loop deadline and reports whether that
// deadline expired during the call.
func runAttempt(ctx context.Context, deadline time.Time, op func(context.Context) error) (bool, error) {
	if minDeadline := time.Now().Add(MinAttemptTimeout); deadline.Before(minDeadline) {
		deadline = minDeadline
	}
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := op(attemptCtx)
	return errors.Is(attemptCtx.Err(), context.DeadlineExceeded), err
}
