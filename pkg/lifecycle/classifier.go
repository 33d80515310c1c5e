package lifecycle

import (
	"context"
	"fmt"

	"github.com/cuemby/protect-init/pkg/log"
	"github.com/cuemby/protect-init/pkg/state"
)

// Verdict is the provisioning branch selected for this container start
type Verdict string

const (
	VerdictNewInstall Verdict = "NEW_INSTALL"
	VerdictUpgrade    Verdict = "UPGRADE"
	VerdictNoAction   Verdict = "NO_ACTION"
)

// UpgradeToken is the CheckVersion result that selects the upgrade branch
const UpgradeToken = "UPGRADE"

// VersionSource reports the version shipped in the installer
type VersionSource interface {
	CurrentVersion() (string, error)
}

// VersionComparer orders two versions, returning the installer's verdict token
type VersionComparer interface {
	CheckVersion(ctx context.Context, installed, current string) (string, error)
}

// MissingFieldError reports an install record without a field the
// classifier needs
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("install record has no %s", e.Field)
}

// Classification is the verdict plus the evidence it was derived from
type Classification struct {
	Verdict          Verdict
	InstalledVersion string
	CurrentVersion   string

	// Token is the raw CheckVersion result, empty for new installs
	Token string

	// Unhandled is set when versions differ but the installer did not ask for
	// an upgrade, e.g. the volume holds a newer install than this image
	Unhandled bool
}

// Classifier decides between new install, upgrade and no action
type Classifier struct {
	Artifact VersionSource
	Compare  VersionComparer
}

// NewClassifier creates a classifier
func NewClassifier(artifact VersionSource, compare VersionComparer) *Classifier {
	return &Classifier{
		Artifact: artifact,
		Compare:  compare,
	}
}

// Classify inspects the install record and the installer. A record without
// ProductInstanceID is always a new install and the installer is not
// consulted.
func (c *Classifier) Classify(ctx context.Context, rec *state.Record) (Classification, error) {
	logger := log.WithComponent("lifecycle")

	if rec.IsNewInstall() {
		logger.Info().Str("verdict", string(VerdictNewInstall)).Msg("No prior install found")
		return Classification{Verdict: VerdictNewInstall}, nil
	}

	installed, ok := rec.Get(state.FieldProductVersion)
	if !ok || installed == "" {
		return Classification{}, &MissingFieldError{Field: state.FieldProductVersion}
	}

	current, err := c.Artifact.CurrentVersion()
	if err != nil {
		return Classification{}, fmt.Errorf("failed to read installer version: %w", err)
	}

	token, err := c.Compare.CheckVersion(ctx, installed, current)
	if err != nil {
		return Classification{}, fmt.Errorf("failed to compare versions: %w", err)
	}

	result := Classification{
		Verdict:          VerdictNoAction,
		InstalledVersion: installed,
		CurrentVersion:   current,
		Token:            token,
	}
	if token == UpgradeToken {
		result.Verdict = VerdictUpgrade
	} else if installed != current {
		result.Unhandled = true
		logger.Warn().
			Str("installed_version", installed).
			Str("current_version", current).
			Str("token", token).
			Msg("Installed version differs from installer but no upgrade was requested; downgrades are not handled")
	}

	logger.Info().
		Str("verdict", string(result.Verdict)).
		Str("installed_version", installed).
		Str("current_version", current).
		Msg("Install classified")
	return result, nil
}
