/*
Package health provides TCP reachability checks for the database and the
server.

Two users sit on top of the Checker interface:

  - DBWaiter blocks provisioning until the database accepts connections. It
    retries every Interval and gives up with ErrWaitTimeout once more than
    Ceiling has elapsed since the first attempt.
  - Probe backs the healthcheck subcommand. It connects to each server port
    in turn and reports the first one that refuses.

# Database Wait

	waiter := health.NewDBWaiter()
	waiter.OnAttempt = func(attempt int, r health.Result) {
		metrics.ObserveDBAttempt(r.Healthy)
	}
	if err := waiter.Wait(ctx, "mysql", "3306"); err != nil {
		if errors.Is(err, health.ErrWaitTimeout) {
			os.Exit(101)
		}
		return err
	}

Any dial failure counts as "not up yet", including DNS errors while the
database container is still being scheduled. The ceiling is checked only
after a failed attempt, and every attempt is cut off at ceiling plus one
interval, so the wait ends at most one interval past the ceiling even when
the database host drops packets instead of refusing.

# Probe

	err := health.Probe(ctx, "127.0.0.1", health.DefaultProbePorts, 5*time.Second)

The default ports are the agent port 2222 and the console port 2223.
*/
package health
