package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/protect-init/pkg/log"
)

const (
	// DefaultWaitInterval is the pause between database connection attempts
	DefaultWaitInterval = 5 * time.Second

	// DefaultWaitCeiling is how long to keep trying before giving up
	DefaultWaitCeiling = 300 * time.Second
)

// ErrWaitTimeout is returned when the database never accepted a connection
// within the wait ceiling
var ErrWaitTimeout = errors.New("timeout exceeded waiting for database")

// DBWaiter polls a TCP address with a fixed interval until it accepts a
// connection or the ceiling is exceeded
type DBWaiter struct {
	Interval time.Duration
	Ceiling  time.Duration

	// NewChecker builds the probe for an address (default: TCP connect)
	NewChecker CheckerFunc

	// Now and Sleep are replaceable for tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnAttempt, if set, observes every connection attempt
	OnAttempt func(attempt int, result Result)
}

// NewDBWaiter creates a waiter with the default interval and ceiling
func NewDBWaiter() *DBWaiter {
	return &DBWaiter{
		Interval:   DefaultWaitInterval,
		Ceiling:    DefaultWaitCeiling,
		NewChecker: NewTCPCheckerFunc,
		Now:        time.Now,
		Sleep:      sleepContext,
	}
}

// Wait blocks until host:port accepts a TCP connection. It returns
// ErrWaitTimeout once more than Ceiling has elapsed since the first attempt.
// Every attempt runs under a deadline of Ceiling plus one Interval after the
// first attempt, so a dial that hangs cannot stretch the wait past it.
func (w *DBWaiter) Wait(ctx context.Context, host, port string) error {
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid database port %q: %w", port, err)
	}

	address := net.JoinHostPort(host, port)
	logger := log.WithComponent("health").With().Str("address", address).Logger()
	checker := w.NewChecker(address)
	start := w.Now()

	for attempt := 1; ; attempt++ {
		logger.Info().Int("attempt", attempt).Msg("Trying database connection")
		attemptCtx, cancel := context.WithTimeout(ctx, w.Ceiling+w.Interval-w.Now().Sub(start))
		result := checker.Check(attemptCtx)
		cancel()
		if w.OnAttempt != nil {
			w.OnAttempt(attempt, result)
		}

		if result.Healthy {
			logger.Info().Msg("Database connection successful")
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := w.Now().Sub(start)
		if elapsed > w.Ceiling {
			logger.Error().Dur("elapsed", elapsed).Msg("Timeout exceeded waiting for database")
			return fmt.Errorf("%w: %s after %d attempts", ErrWaitTimeout, address, attempt)
		}

		logger.Warn().Str("reason", result.Message).Dur("retry_in", w.Interval).Msg("Database connection failed, sleeping")
		if err := w.Sleep(ctx, w.Interval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
