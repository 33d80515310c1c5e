package installer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/protect-init/pkg/log"
	"github.com/google/renameio/v2"
)

// versionMarker prefixes the line in the installer script that carries the
// version the script installs, e.g. arg_current_version="10.1.2207.0"
const versionMarker = "arg_current_version"

// ErrVersionMarkerNotFound is returned when the installer script carries no
// version marker line
var ErrVersionMarkerNotFound = errors.New("installer version marker not found")

// Patch is a targeted text substitution applied to the vendor installer
// script. Each line has its first occurrence of Old replaced with New.
//
// Patches depend on the script's internal text. If the vendor renames the
// marker a patch stops matching and Apply reports zero replacements.
type Patch struct {
	Name string
	Old  string
	New  string
}

var (
	// PatchRootCheck makes the script's uid check look up root instead of
	// the current user, so it runs as a non-root container user
	PatchRootCheck = Patch{
		Name: "root-check",
		Old:  "`id -u`",
		New:  "`id -u root`",
	}

	// PatchUpdateMode forces the script down its "updating" code path by
	// replacing the false initializer with the shell no-op, which is truthy
	PatchUpdateMode = Patch{
		Name: "update-mode",
		Old:  "is_updating=false",
		New:  "is_updating=:",
	}
)

// Artifact is the vendor installer script on disk
type Artifact struct {
	Path string
}

// NewArtifact creates an Artifact for the script at path
func NewArtifact(path string) *Artifact {
	if path == "" {
		path = DefaultScriptPath
	}
	return &Artifact{Path: path}
}

// CurrentVersion returns the version embedded in the installer script
func (a *Artifact) CurrentVersion() (string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open installer: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, versionMarker) {
			continue
		}

		version, ok := parseVersionLine(line)
		if !ok {
			return "", fmt.Errorf("%w: malformed line %q", ErrVersionMarkerNotFound, line)
		}
		return version, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read installer: %w", err)
	}

	return "", ErrVersionMarkerNotFound
}

// parseVersionLine extracts X from arg_current_version="X"
func parseVersionLine(line string) (string, bool) {
	_, rhs, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", false
	}
	parts := strings.Split(rhs, `"`)
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Apply rewrites the script with p applied and returns how many lines
// changed. The script keeps its file mode. Applying a patch twice is a no-op.
func (a *Artifact) Apply(p Patch) (int, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat installer: %w", err)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to read installer: %w", err)
	}

	patched, n := applyPatch(data, p)
	logger := log.WithComponent("installer")
	if n == 0 {
		logger.Debug().Str("patch", p.Name).Msg("Installer patch matched nothing")
		return 0, nil
	}

	if err := renameio.WriteFile(a.Path, patched, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to apply %s patch: %w", p.Name, err)
	}

	logger.Info().Str("patch", p.Name).Int("lines", n).Msg("Installer patched")
	return n, nil
}

func applyPatch(data []byte, p Patch) ([]byte, int) {
	lines := bytes.SplitAfter(data, []byte("\n"))
	old, repl := []byte(p.Old), []byte(p.New)

	n := 0
	for i, line := range lines {
		if bytes.Contains(line, old) {
			lines[i] = bytes.Replace(line, old, repl, 1)
			n++
		}
	}
	return bytes.Join(lines, nil), n
}
