package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/protect-init/pkg/config"
	"github.com/cuemby/protect-init/pkg/health"
	"github.com/cuemby/protect-init/pkg/installer"
	"github.com/cuemby/protect-init/pkg/lifecycle"
	"github.com/cuemby/protect-init/pkg/log"
	"github.com/cuemby/protect-init/pkg/metrics"
	"github.com/cuemby/protect-init/pkg/provision"
	"github.com/cuemby/protect-init/pkg/settings"
	"github.com/cuemby/protect-init/pkg/state"
	"github.com/cuemby/protect-init/pkg/storage"
	"github.com/cuemby/protect-init/pkg/supervisor"
	"github.com/spf13/cobra"
)

// exitCodeDBTimeout is the container exit code when the database never came up
const exitCodeDBTimeout = 101

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the install if needed and run the server (default)",
	RunE:  runEntrypoint,
}

// exitError carries a process exit code through cobra. A nil err means the
// code is the server's own and needs no message.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// exitCodeFor maps an entrypoint error onto the container exit code
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if errors.Is(err, health.ErrWaitTimeout) {
		return exitCodeDBTimeout
	}
	if code, ok := installer.ExitCode(err); ok {
		return code
	}
	return 1
}

func runEntrypoint(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	metrics.SetVersion(Version)
	for _, name := range []string{metrics.ComponentDatabase, metrics.ComponentProvisioning, metrics.ComponentServer} {
		metrics.RegisterComponent(name, false, "pending")
	}

	root, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(root, cfg.MetricsAddr); err != nil {
				logger := log.WithComponent("metrics")
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	journal := openJournal(cfg)

	logger := log.WithRunID(journal.RunID())
	logger.Info().Str("version", Version).Msg("Starting protect-init")

	// SIGTERM during provisioning aborts the installer invocations
	provCtx, stopSignals := signal.NotifyContext(root, syscall.SIGTERM, syscall.SIGINT)
	if err := provisionInstall(provCtx, cfg, journal); err != nil {
		stopSignals()
		code := exitCodeFor(err)
		journal.Finish(code, err)
		return &exitError{code: code, err: err}
	}

	// The supervisor takes over the signals before provisioning lets go of them
	sup := supervisor.New(cfg.ServerBinary, cfg.ServerArgs...)
	sup.Listen()
	stopSignals()

	code, err := sup.Run(root)
	journal.Finish(code, err)
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// openJournal prunes old runs and starts recording this one. The journal is
// closed again before the server starts so history can read it meanwhile.
func openJournal(cfg *config.Config) *storage.Recorder {
	if !cfg.Journal.Enabled {
		return nil
	}
	logger := log.WithComponent("journal")

	store, err := storage.NewBoltStore(cfg.Journal.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Boot journal unavailable")
		return nil
	}
	if _, err := store.Prune(cfg.Journal.Keep - 1); err != nil {
		logger.Warn().Err(err).Msg("Failed to prune boot journal")
	}
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close boot journal")
	}
	return storage.NewRecorder(cfg.Journal.Path, time.Now)
}

// provisionInstall classifies the install and runs the selected branch
func provisionInstall(ctx context.Context, cfg *config.Config, journal *storage.Recorder) error {
	logger := log.WithComponent("entrypoint")

	set, err := settings.Resolve(os.LookupEnv, cfg.SecretsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve settings: %w", err)
	}

	inst := installer.New(installer.NewExecRunner())
	inst.ScriptPath = cfg.InstallerScript
	inst.CustomActionsPath = cfg.CustomActions
	artifact := installer.NewArtifact(cfg.InstallerScript)

	waiter := health.NewDBWaiter()
	waiter.Interval = cfg.DBWait.Interval
	waiter.Ceiling = cfg.DBWait.Ceiling
	waiter.OnAttempt = func(attempt int, result health.Result) {
		metrics.ObserveDBAttempt(result.Healthy)
	}

	store := state.NewStore(cfg.ConfigFile)

	seq := provision.NewSequencer(inst, artifact, waiter, store, provision.Paths{
		StartupConfig: cfg.StartupConfigPath,
		ConnectorsDir: cfg.ConnectorsDir,
		ModulesDir:    cfg.ModulesDir,
		ProductName:   cfg.ProductName,
	})
	seq.Observer = journal

	if err := seq.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to patch installer: %w", err)
	}

	rec, err := store.Load()
	if err != nil {
		return err
	}

	classification, err := lifecycle.NewClassifier(artifact, inst).Classify(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to classify install: %w", err)
	}
	journal.SetVerdict(string(classification.Verdict), classification.InstalledVersion, classification.CurrentVersion)

	result, err := seq.Provision(ctx, classification, set, rec)
	if err != nil {
		return err
	}

	if result.RecordChanged {
		if err := store.Save(rec); err != nil {
			return fmt.Errorf("failed to write install record: %w", err)
		}
	}

	logger.Info().Str("verdict", string(classification.Verdict)).Msg("Provisioning complete")
	return nil
}
