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

package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ogvalt/triton-testcontainer/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errNotReady  = errors.New("not ready")
	errTransient = errors.New("connection reset")
	errFatal     = errors.New("permission denied")
)

func fastPolicy(timeout time.Duration) Policy {
	return Policy{
		Timeout:   timeout,
		BackOff:   backoff.NewConstantBackOff(5 * time.Millisecond),
		Retryable: []error{errNotReady, errTransient},
	}
}

func TestDo_SucceedsAfterKFailures(t *testing.T) {
	for _, k := range []int{0, 1, 3, 7} {
		calls := 0
		err := Do(context.Background(), fastPolicy(5*time.Second), func(context.Context) error {
			calls++
			if calls <= k {
				if calls%2 == 0 {
					return errTransient
				}
				return errNotReady
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, k+1, calls)
	}
}

func TestDo_TimesOut(t *testing.T) {
	timeout := 200 * time.Millisecond
	calls := 0

	start := time.Now()
	err := Do(context.Background(), fastPolicy(timeout), func(context.Context) error {
		calls++
		return errNotReady
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, errNotReady)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, timeout, terr.Timeout)
	assert.Equal(t, calls, terr.Attempts)
	assert.Same(t, errNotReady, terr.Last)
	assert.GreaterOrEqual(t, terr.Elapsed, timeout)

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Greater(t, calls, 1)
}

func TestDo_FinalAttemptAtDeadline(t *testing.T) {
	timeout := 100 * time.Millisecond
	var last time.Duration

	start := time.Now()
	err := Do(context.Background(), Policy{
		Timeout:   timeout,
		BackOff:   backoff.NewConstantBackOff(time.Hour),
		Retryable: []error{errNotReady},
	}, func(context.Context) error {
		last = time.Since(start)
		return errNotReady
	})

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 2, terr.Attempts)
	assert.GreaterOrEqual(t, last, timeout)
}

func TestDo_FatalErrorReturnedImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5*time.Second), func(context.Context) error {
		calls++
		if calls == 1 {
			return errNotReady
		}
		return errFatal
	})

	assert.Same(t, errFatal, err)
	assert.Equal(t, 2, calls)
}

func TestDo_WrappedRetryableMatches(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5*time.Second), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.Join(errors.New("GET /v2/health/ready"), errTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, fastPolicy(time.Minute), func(context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errNotReady
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, calls)
}

func TestDo_BackOffStop(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		Timeout:   time.Minute,
		BackOff:   &backoff.StopBackOff{},
		Retryable: []error{errNotReady},
	}, func(context.Context) error {
		calls++
		return errNotReady
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestDo_InvalidTimeout(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	p := fastPolicy(5 * time.Second)
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		assert.ErrorIs(t, err, errNotReady)
		assert.Equal(t, 5*time.Millisecond, wait)
	}

	calls := 0
	require.NoError(t, Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errNotReady
		}
		return nil
	}))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy(errNotReady)
	assert.Equal(t, DefaultTimeout, p.Timeout)
	assert.True(t, p.IsRetryable(errNotReady))
	assert.False(t, p.IsRetryable(errFatal))

	eb, ok := p.BackOff.(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultInitialInterval, eb.InitialInterval)
	assert.Equal(t, DefaultMaxInterval, eb.MaxInterval)
}

func TestDo_AttemptBoundedByDeadline(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), fastPolicy(300*time.Millisecond), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, calls)
	assert.Less(t, elapsed, time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, te.Last, context.DeadlineExceeded)
}

func TestDo_FinalAttemptGetsMinimumWindow(t *testing.T) {
	p := Policy{
		Timeout:   50 * time.Millisecond,
		BackOff:   backoff.NewConstantBackOff(time.Hour),
		Retryable: []error{errNotReady},
	}

	var windows []time.Duration
	err := Do(context.Background(), p, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		windows = append(windows, time.Until(deadline))
		return errNotReady
	})

	assert.ErrorIs(t, err, ErrTimeout)
	require.Len(t, windows, 2)
	assert.Greater(t, windows[1], MinAttemptTimeout-50*time.Millisecond)
}

func TestDo_HungServerTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := health.NewClient()
	p := Policy{
		Timeout:   300 * time.Millisecond,
		BackOff:   backoff.NewConstantBackOff(10 * time.Millisecond),
		Retryable: []error{health.ErrNotReady, health.ErrConnectionClosed},
	}

	start := time.Now()
	err := Do(context.Background(), p, func(ctx context.Context) error {
		ready, err := client.IsServerReady(ctx, srv.URL)
		if err != nil {
			return err
		}
		if !ready {
			return health.ErrNotReady
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
