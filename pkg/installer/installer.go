package installer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/protect-init/pkg/log"
)

const (
	// DefaultScriptPath is the vendor installer script
	DefaultScriptPath = "/opt/eset/RemoteAdministrator/Server/setup/installer_backup.sh"

	// DefaultCustomActionsPath is the vendor custom actions dispatcher
	DefaultCustomActionsPath = "/opt/eset/RemoteAdministrator/Server/setup/CustomActions"
)

// Custom action names understood by the dispatcher
const (
	ActionLoadCorrectProductGUID = "LoadCorrectProductGuid"
	ActionCheckVersion           = "CheckVersion"
	ActionLoadInstalledData      = "LoadInstalledData"
	ActionCreateStartupConfig    = "CreateStartupConfig"
)

// Keys reported by LoadInstalledData
const (
	DataDBHostname      = "P_DB_HOSTNAME"
	DataDBPort          = "P_DB_PORT"
	DataDBName          = "P_DB_NAME"
	DataDBDriver        = "P_DB_DRIVER"
	DataDBType          = "P_DB_TYPE"
	DataDBAdminUsername = "P_DB_ADMIN_USERNAME"
	DataDBAdminPassword = "P_DB_ADMIN_PASSWORD"
)

// MissingKeyError reports a key absent from installer output
type MissingKeyError struct {
	Action string
	Key    string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s output is missing %s", e.Action, e.Key)
}

// OutputError reports installer output that could not be interpreted
type OutputError struct {
	Action string
	Output string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("unexpected %s output: %q", e.Action, e.Output)
}

// Installer drives the vendor installer script and custom actions dispatcher
type Installer struct {
	ScriptPath        string
	CustomActionsPath string
	Runner            Runner
}

// New creates an Installer using the default vendor paths
func New(runner Runner) *Installer {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Installer{
		ScriptPath:        DefaultScriptPath,
		CustomActionsPath: DefaultCustomActionsPath,
		Runner:            runner,
	}
}

// InstallDatabase runs the installer in database mode. When skipCert is set
// the certificate step is skipped, which is what an upgrade wants.
func (i *Installer) InstallDatabase(ctx context.Context, skipCert bool, flags []string) error {
	args := []string{"--install-type", "database", "--skip-license"}
	if skipCert {
		args = append(args, "--skip-cert")
	}
	args = append(args, flags...)

	logger := log.WithComponent("installer")
	logger.Info().Bool("skip_cert", skipCert).Msg("Running database install")
	if err := i.Runner.Run(ctx, i.ScriptPath, args...); err != nil {
		return fmt.Errorf("database install failed: %w", err)
	}
	return nil
}

// CustomAction runs one dispatcher action and returns its standard output
func (i *Installer) CustomAction(ctx context.Context, action string, args []string) ([]byte, error) {
	cmd := append([]string{"-a", action}, args...)

	logger := log.WithComponent("installer")
	logger.Debug().Str("action", action).Msg("Running custom action")
	out, err := i.Runner.Output(ctx, i.CustomActionsPath, cmd...)
	if err != nil {
		return nil, fmt.Errorf("custom action %s failed: %w", action, err)
	}
	return out, nil
}

// LoadCorrectProductGUID asks the installer for the product GUID matching
// the database described by args
func (i *Installer) LoadCorrectProductGUID(ctx context.Context, args []string) (string, error) {
	out, err := i.CustomAction(ctx, ActionLoadCorrectProductGUID, args)
	if err != nil {
		return "", err
	}
	guid, err := ParseValue(ActionLoadCorrectProductGUID, out)
	if err != nil {
		return "", err
	}
	if guid == "" {
		return "", &OutputError{Action: ActionLoadCorrectProductGUID, Output: string(out)}
	}
	return guid, nil
}

// CheckVersion compares the installed version against the version shipped in
// the installer and returns the verdict token, e.g. "UPGRADE"
func (i *Installer) CheckVersion(ctx context.Context, installed, current string) (string, error) {
	out, err := i.CustomAction(ctx, ActionCheckVersion, []string{
		"--installed-version", installed,
		"--current-version", current,
	})
	if err != nil {
		return "", err
	}
	return ParseValue(ActionCheckVersion, out)
}

// LoadInstalledData returns what the installer knows about the existing
// installation
func (i *Installer) LoadInstalledData(ctx context.Context, args []string) (InstalledData, error) {
	out, err := i.CustomAction(ctx, ActionLoadInstalledData, args)
	if err != nil {
		return nil, err
	}
	return ParseInstalledData(out), nil
}

// CreateStartupConfig writes the server startup configuration
func (i *Installer) CreateStartupConfig(ctx context.Context, args []string) error {
	_, err := i.CustomAction(ctx, ActionCreateStartupConfig, args)
	return err
}

// ParseValue extracts the value from single-line "key=value" action output
func ParseValue(action string, out []byte) (string, error) {
	text := strings.TrimRight(string(out), " \t\r\n")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}

	_, value, ok := strings.Cut(strings.TrimSpace(text), "=")
	if !ok {
		return "", &OutputError{Action: action, Output: string(out)}
	}
	return value, nil
}

// InstalledData holds the KEY=value pairs reported by LoadInstalledData
type InstalledData map[string]string

// ParseInstalledData parses newline-delimited KEY=value output. Lines that do
// not split into exactly two parts are skipped.
func ParseInstalledData(out []byte) InstalledData {
	data := make(InstalledData)
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.Split(strings.TrimSuffix(line, "\r"), "=")
		if len(parts) != 2 {
			continue
		}
		data[parts[0]] = parts[1]
	}
	return data
}

// Require returns the value for key, or a *MissingKeyError
func (d InstalledData) Require(key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", &MissingKeyError{Action: ActionLoadInstalledData, Key: key}
	}
	return v, nil
}
