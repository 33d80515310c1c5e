/*
Package log provides structured logging for protect-init using zerolog.

The package wraps a single global zerolog.Logger. It is initialized once from
the root command before any provisioning step runs, and every other package
derives a component logger from it:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	logger := log.WithComponent("provision")
	logger.Info().Str("step", "install-database").Msg("Running installer")

# Output

Logs are written to stderr by default. The supervised server process inherits
stdout and stderr, so entrypoint logs and server logs interleave in the
container log stream; the component field tells them apart.

Console output (default):

	2025-01-15T10:30:00Z INF Database connection successful component=health

JSON output (--log-json):

	{"level":"info","component":"health","time":"2025-01-15T10:30:00Z","message":"Database connection successful"}

# Secrets

Setting values are never logged. Loggers record the setting key and its
origin (default, env or secret) only.
*/
package log
