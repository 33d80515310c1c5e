package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/protect-init/pkg/installer"
	"github.com/cuemby/protect-init/pkg/lifecycle"
	"github.com/cuemby/protect-init/pkg/log"
	"github.com/cuemby/protect-init/pkg/metrics"
	"github.com/cuemby/protect-init/pkg/settings"
	"github.com/cuemby/protect-init/pkg/state"
)

// Step names, as reported to the observer and the step metrics
const (
	StepBypassRootCheck     = "bypass-root-check"
	StepWaitForDatabase     = "wait-for-database"
	StepLoadProductGUID     = "load-product-guid"
	StepInstallDatabase     = "install-database"
	StepWriteProductGUID    = "write-product-guid"
	StepCreateStartupConfig = "create-startup-config"
	StepEnableUpdateMode    = "enable-update-mode"
	StepLoadInstalledData   = "load-installed-data"
	StepUpgradeDatabase     = "upgrade-database"
)

// Installer is the subset of the vendor installer the sequencer drives
type Installer interface {
	InstallDatabase(ctx context.Context, skipCert bool, flags []string) error
	LoadCorrectProductGUID(ctx context.Context, args []string) (string, error)
	LoadInstalledData(ctx context.Context, args []string) (installer.InstalledData, error)
	CreateStartupConfig(ctx context.Context, args []string) error
}

// Patcher applies compatibility patches to the installer script
type Patcher interface {
	Apply(p installer.Patch) (int, error)
}

// Waiter blocks until the database accepts connections
type Waiter interface {
	Wait(ctx context.Context, host, port string) error
}

// RecordStore persists the product GUID into the install record
type RecordStore interface {
	SetProductInstanceID(guid string) error
}

// Observer is notified after every step, successful or not
type Observer interface {
	StepFinished(name string, started time.Time, duration time.Duration, err error)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(name string, started time.Time, duration time.Duration, err error)

func (f ObserverFunc) StepFinished(name string, started time.Time, duration time.Duration, err error) {
	f(name, started, duration, err)
}

// Paths are the fixed locations passed to the custom actions
type Paths struct {
	StartupConfig string
	ConnectorsDir string
	ModulesDir    string

	// ProductName is the product the GUID lookup asks for on new installs
	ProductName string
}

// Result describes what a provisioning run changed
type Result struct {
	// Settings are the settings the installer was invoked with, including a
	// looked-up product GUID or upgrade overrides
	Settings settings.Settings

	// RecordChanged is set when the in-memory record was updated and must
	// be written back by the caller
	RecordChanged bool
}

// Sequencer issues the installer invocations for a classified start
type Sequencer struct {
	Installer Installer
	Patcher   Patcher
	Waiter    Waiter
	Store     RecordStore
	Paths     Paths

	// Observer is optional
	Observer Observer

	Now func() time.Time
}

// NewSequencer creates a sequencer
func NewSequencer(inst Installer, patcher Patcher, waiter Waiter, store RecordStore, paths Paths) *Sequencer {
	return &Sequencer{
		Installer: inst,
		Patcher:   patcher,
		Waiter:    waiter,
		Store:     store,
		Paths:     paths,
		Now:       time.Now,
	}
}

// Prepare applies the root-check patch. It runs on every start before
// classification and is a no-op once the script is patched.
func (s *Sequencer) Prepare(ctx context.Context) error {
	return s.step(StepBypassRootCheck, func() error {
		_, err := s.Patcher.Apply(installer.PatchRootCheck)
		return err
	})
}

// Provision runs the branch selected by c. The record is only modified in
// memory; when Result.RecordChanged is set the caller must write it.
func (s *Sequencer) Provision(ctx context.Context, c lifecycle.Classification, set settings.Settings, rec *state.Record) (Result, error) {
	logger := log.WithComponent("provision")
	metrics.VerdictsTotal.WithLabelValues(string(c.Verdict)).Inc()

	var (
		result Result
		err    error
	)
	switch c.Verdict {
	case lifecycle.VerdictNewInstall:
		result.Settings, err = s.NewInstall(ctx, set)
	case lifecycle.VerdictUpgrade:
		result.Settings, err = s.Upgrade(ctx, set, rec, c.CurrentVersion)
		result.RecordChanged = err == nil
	case lifecycle.VerdictNoAction:
		logger.Info().Str("installed_version", c.InstalledVersion).Msg("Install is current, nothing to provision")
		result.Settings = set
	default:
		return Result{}, fmt.Errorf("unknown verdict %q", c.Verdict)
	}

	if err != nil {
		metrics.UpdateComponent(metrics.ComponentProvisioning, false, err.Error())
		return Result{}, err
	}
	metrics.UpdateComponent(metrics.ComponentProvisioning, true, string(c.Verdict))
	return result, nil
}

// NewInstall creates the database, records the product GUID and writes the
// startup configuration
func (s *Sequencer) NewInstall(ctx context.Context, set settings.Settings) (settings.Settings, error) {
	logger := log.WithComponent("provision")
	logger.Info().Msg("Provisioning new install")

	if err := s.waitForDatabase(ctx, set); err != nil {
		return set, err
	}

	var guid string
	err := s.step(StepLoadProductGUID, func() error {
		if set.Present(settings.KeyProductGUID) {
			guid = set.Value(settings.KeyProductGUID)
			logger.Info().Msg("Using configured product GUID")
			return nil
		}

		var err error
		guid, err = s.Installer.LoadCorrectProductGUID(ctx, s.productGUIDArgs(set))
		return err
	})
	if err != nil {
		return set, fmt.Errorf("failed to load product GUID: %w", err)
	}
	set = set.With(settings.KeyProductGUID, guid, settings.OriginInstaller)

	err = s.step(StepInstallDatabase, func() error {
		return s.Installer.InstallDatabase(ctx, false, set.InstallerFlags())
	})
	if err != nil {
		return set, err
	}

	err = s.step(StepWriteProductGUID, func() error {
		return s.Store.SetProductInstanceID(guid)
	})
	if err != nil {
		return set, fmt.Errorf("failed to write product GUID: %w", err)
	}

	err = s.step(StepCreateStartupConfig, func() error {
		args := append(set.DatabaseFlags(), "--startup-config-path", s.Paths.StartupConfig)
		return s.Installer.CreateStartupConfig(ctx, args)
	})
	if err != nil {
		return set, fmt.Errorf("failed to create startup configuration: %w", err)
	}

	logger.Info().Msg("New install provisioned")
	return set, nil
}

// Upgrade migrates the existing database to currentVersion and sets
// ProductVersion in rec
func (s *Sequencer) Upgrade(ctx context.Context, set settings.Settings, rec *state.Record, currentVersion string) (settings.Settings, error) {
	logger := log.WithComponent("provision").With().
		Str("installed_version", rec.Value(state.FieldProductVersion)).
		Str("current_version", currentVersion).
		Logger()
	logger.Info().Msg("Upgrading install")

	err := s.step(StepEnableUpdateMode, func() error {
		_, err := s.Patcher.Apply(installer.PatchUpdateMode)
		return err
	})
	if err != nil {
		return set, err
	}

	var data installer.InstalledData
	err = s.step(StepLoadInstalledData, func() error {
		var err error
		data, err = s.Installer.LoadInstalledData(ctx, []string{
			"--startup-config-path", s.Paths.StartupConfig,
			"--product-name", rec.Value(state.FieldProductName),
			"--modules-dir", s.Paths.ModulesDir,
			"--db-connectors-dir", s.Paths.ConnectorsDir,
			"--current-version", currentVersion,
		})
		return err
	})
	if err != nil {
		return set, fmt.Errorf("failed to load installed data: %w", err)
	}

	flags, err := upgradeFlags(data)
	if err != nil {
		return set, err
	}

	set = set.
		With(settings.KeyDBHostname, data[installer.DataDBHostname], settings.OriginInstaller).
		With(settings.KeyDBPort, data[installer.DataDBPort], settings.OriginInstaller)

	if err := s.waitForDatabase(ctx, set); err != nil {
		return set, err
	}

	err = s.step(StepUpgradeDatabase, func() error {
		return s.Installer.InstallDatabase(ctx, true, flags)
	})
	if err != nil {
		return set, err
	}

	rec.Set(state.FieldProductVersion, currentVersion)
	logger.Info().Msg("Upgrade complete")
	return set, nil
}

// upgradeFlags builds the database install flags from what the installer
// reported about the existing installation. The admin credentials it reports
// are the ones the server itself connects with.
func upgradeFlags(data installer.InstalledData) ([]string, error) {
	pairs := []struct {
		flag string
		key  string
	}{
		{settings.KeyDBUserUsername, installer.DataDBAdminUsername},
		{settings.KeyDBUserPassword, installer.DataDBAdminPassword},
		{settings.KeyDBName, installer.DataDBName},
		{settings.KeyDBHostname, installer.DataDBHostname},
		{settings.KeyDBPort, installer.DataDBPort},
		{settings.KeyDBDriver, installer.DataDBDriver},
		{settings.KeyDBType, installer.DataDBType},
	}

	flags := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		v, err := data.Require(p.key)
		if err != nil {
			return nil, err
		}
		flags = append(flags, "--"+p.flag, v)
	}
	return flags, nil
}

func (s *Sequencer) productGUIDArgs(set settings.Settings) []string {
	args := []string{"--product-name", s.Paths.ProductName}
	args = append(args, set.DatabaseFlags()...)
	args = append(args, "--db-connectors-dir", s.Paths.ConnectorsDir)
	return append(args, set.AdminFlags()...)
}

func (s *Sequencer) waitForDatabase(ctx context.Context, set settings.Settings) error {
	err := s.step(StepWaitForDatabase, func() error {
		return s.Waiter.Wait(ctx, set.Value(settings.KeyDBHostname), set.Value(settings.KeyDBPort))
	})
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentDatabase, false, err.Error())
		return err
	}
	metrics.UpdateComponent(metrics.ComponentDatabase, true, "accepting connections")
	return nil
}

// step times fn and reports it to the metrics and the observer
func (s *Sequencer) step(name string, fn func() error) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	started := now()
	timer := metrics.NewTimer()
	err := fn()
	timer.ObserveDurationVec(metrics.StepDuration, name)
	duration := now().Sub(started)

	logger := log.WithComponent("provision").With().Str("step", name).Logger()
	if err != nil {
		metrics.StepFailures.WithLabelValues(name).Inc()
		logger.Error().Err(err).Dur("duration", duration).Msg("Step failed")
	} else {
		logger.Debug().Dur("duration", duration).Msg("Step finished")
	}

	if s.Observer != nil {
		s.Observer.StepFinished(name, started, duration, err)
	}
	return err
}
