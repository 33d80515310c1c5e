package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the waiter sleeps
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type scriptedChecker struct {
	healthyAfter int
	calls        int
}

func (s *scriptedChecker) Check(ctx context.Context) Result {
	s.calls++
	if s.healthyAfter > 0 && s.calls >= s.healthyAfter {
		return Result{Healthy: true}
	}
	return Result{Healthy: false, Message: "connection refused"}
}

func (s *scriptedChecker) Type() CheckType { return CheckTypeTCP }

func newTestWaiter(clock *fakeClock, checker Checker) *DBWaiter {
	w := NewDBWaiter()
	w.Now = clock.Now
	w.Sleep = clock.Sleep
	w.NewChecker = func(string) Checker { return checker }
	return w
}

func TestDBWaiter_TimesOutWithinOneInterval(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	checker := &scriptedChecker{}

	err := newTestWaiter(clock, checker).Wait(context.Background(), "mysql", "3306")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))

	elapsed := clock.now.Sub(start)
	assert.GreaterOrEqual(t, elapsed, DefaultWaitCeiling)
	assert.LessOrEqual(t, elapsed, DefaultWaitCeiling+DefaultWaitInterval)
	assert.Equal(t, 62, checker.calls, "attempts at 0s, 5s, ..., 305s")
}

func TestDBWaiter_StopsOnFirstSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	checker := &scriptedChecker{healthyAfter: 3}

	var attempts []int
	w := newTestWaiter(clock, checker)
	w.OnAttempt = func(attempt int, r Result) { attempts = append(attempts, attempt) }

	require.NoError(t, w.Wait(context.Background(), "mysql", "3306"))
	assert.Equal(t, 3, checker.calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 10*time.Second, clock.now.Sub(time.Unix(0, 0)))
}

func TestDBWaiter_InvalidPort(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	checker := &scriptedChecker{}

	err := newTestWaiter(clock, checker).Wait(context.Background(), "mysql", "not-a-port")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrWaitTimeout))
	assert.Zero(t, checker.calls)
}

func TestDBWaiter_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewDBWaiter()
	w.NewChecker = func(string) Checker { return &scriptedChecker{} }

	err := w.Wait(ctx, "mysql", "3306")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDBWaiter_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, NewDBWaiter().Wait(context.Background(), host, port))
}

// hangingChecker models a database host that drops packets: every attempt
// blocks until its context is done
type hangingChecker struct {
	calls int
}

func (h *hangingChecker) Check(ctx context.Context) Result {
	h.calls++
	<-ctx.Done()
	return Result{Healthy: false, Message: "i/o timeout", Err: ctx.Err()}
}

func (h *hangingChecker) Type() CheckType { return CheckTypeTCP }

func TestDBWaiter_HangingDialEndsWithinOneInterval(t *testing.T) {
	checker := &hangingChecker{}
	w := NewDBWaiter()
	w.Ceiling = 50 * time.Millisecond
	w.Interval = 20 * time.Millisecond
	w.NewChecker = func(string) Checker { return checker }

	start := time.Now()
	err := w.Wait(context.Background(), "10.255.255.1", "3306")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.Equal(t, 1, checker.calls)
	assert.GreaterOrEqual(t, elapsed, w.Ceiling)
	// Well under the 5s dial timeout of the TCP checker
	assert.Less(t, elapsed, time.Second)
}

func TestDBWaiter_HangingDialHonoursParentCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := NewDBWaiter()
	w.NewChecker = func(string) Checker { return &hangingChecker{} }

	err := w.Wait(ctx, "10.255.255.1", "3306")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrWaitTimeout))
}
