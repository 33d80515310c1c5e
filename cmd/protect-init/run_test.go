package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/protect-init/pkg/config"
	"github.com/cuemby/protect-init/pkg/provision"
	"github.com/cuemby/protect-init/pkg/state"
	"github.com/cuemby/protect-init/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInstall is a volume plus vendor tooling made of shell scripts. Every
// invocation appends one line to the action log.
type fakeInstall struct {
	cfg     *config.Config
	logPath string
	dbPort  string
}

const fakeInstallerScript = `#!/bin/sh
# refuse to run unless root: test "` + "`id -u`" + `" = 0
is_updating=false
arg_current_version="2.0"
echo "install $*" >> %[1]q
[ -f %[2]q ] || printf 'ProductInstanceID=\nProductVersion=2.0\nProductName=Server\n' > %[2]q
`

const fakeCustomActions = `#!/bin/sh
echo "$2" >> %[1]q
case "$2" in
LoadCorrectProductGuid) echo "ProductGuid=GUID-1" ;;
CheckVersion) echo "Result=UPGRADE" ;;
LoadInstalledData)
	echo "P_DB_HOSTNAME=127.0.0.1"
	echo "P_DB_PORT=%[2]s"
	echo "P_DB_NAME=era_db"
	echo "P_DB_DRIVER=MySQL ODBC Unicode Driver"
	echo "P_DB_TYPE=MySQL Server"
	echo "P_DB_ADMIN_USERNAME=era_db_user"
	echo "P_DB_ADMIN_PASSWORD=eraadmin"
	;;
esac
`

func newFakeInstall(t *testing.T) *fakeInstall {
	t.Helper()
	dir := t.TempDir()

	// Stands in for the database container
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	t.Setenv("DB_HOSTNAME", "127.0.0.1")
	t.Setenv("DB_PORT", port)

	cfg := config.Default()
	cfg.ConfigFile = filepath.Join(dir, "config.cfg")
	cfg.StartupConfigPath = filepath.Join(dir, "StartupConfiguration.ini")
	cfg.InstallerScript = filepath.Join(dir, "installer_backup.sh")
	cfg.CustomActions = filepath.Join(dir, "CustomActions")
	cfg.SecretsDir = filepath.Join(dir, "secrets")
	cfg.DBWait.Interval = 10 * time.Millisecond
	cfg.DBWait.Ceiling = time.Second

	f := &fakeInstall{cfg: cfg, logPath: filepath.Join(dir, "actions.log"), dbPort: port}
	script := fmt.Sprintf(fakeInstallerScript, f.logPath, cfg.ConfigFile)
	require.NoError(t, os.WriteFile(cfg.InstallerScript, []byte(script), 0755))
	actions := fmt.Sprintf(fakeCustomActions, f.logPath, port)
	require.NoError(t, os.WriteFile(cfg.CustomActions, []byte(actions), 0755))
	return f
}

func (f *fakeInstall) actions(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.logPath)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (f *fakeInstall) script(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.cfg.InstallerScript)
	require.NoError(t, err)
	return string(data)
}

func (f *fakeInstall) record(t *testing.T) *state.Record {
	t.Helper()
	rec, err := state.Load(f.cfg.ConfigFile)
	require.NoError(t, err)
	return rec
}

func TestProvisionInstall_NewInstall(t *testing.T) {
	f := newFakeInstall(t)
	journal := storage.NewRecorder(filepath.Join(t.TempDir(), "journal.db"), nil)

	require.NoError(t, provisionInstall(context.Background(), f.cfg, journal))

	actions := f.actions(t)
	require.Len(t, actions, 3)
	assert.Equal(t, "LoadCorrectProductGuid", actions[0])
	assert.True(t, strings.HasPrefix(actions[1], "install --install-type database --skip-license "), actions[1])
	assert.Contains(t, actions[1], "--db-type MySQL Server")
	assert.NotContains(t, actions[1], "--skip-cert")
	assert.Contains(t, actions[1], "--db-port "+f.dbPort)
	assert.Contains(t, actions[1], "--product-guid GUID-1")
	assert.Equal(t, "CreateStartupConfig", actions[2])

	rec := f.record(t)
	assert.Equal(t, "GUID-1", rec.Value(state.FieldProductInstanceID))
	assert.Equal(t, "2.0", rec.Value(state.FieldProductVersion))

	script := f.script(t)
	assert.Contains(t, script, "`id -u root`")
	assert.Contains(t, script, "is_updating=false", "update mode is only enabled for upgrades")

	run := journal.Run()
	assert.Equal(t, "NEW_INSTALL", run.Verdict)
	var steps []string
	for _, s := range run.Steps {
		steps = append(steps, s.Name)
	}
	assert.Equal(t, []string{
		provision.StepBypassRootCheck,
		provision.StepWaitForDatabase,
		provision.StepLoadProductGUID,
		provision.StepInstallDatabase,
		provision.StepWriteProductGUID,
		provision.StepCreateStartupConfig,
	}, steps)
}

func TestProvisionInstall_Upgrade(t *testing.T) {
	f := newFakeInstall(t)
	require.NoError(t, os.WriteFile(f.cfg.ConfigFile,
		[]byte("ProductInstanceID=GUID-1\nProductVersion=1.0\nProductName=Server\n"), 0644))

	require.NoError(t, provisionInstall(context.Background(), f.cfg, nil))

	actions := f.actions(t)
	require.Len(t, actions, 3)
	assert.Equal(t, "CheckVersion", actions[0])
	assert.Equal(t, "LoadInstalledData", actions[1])
	assert.True(t, strings.HasPrefix(actions[2], "install --install-type database --skip-license --skip-cert"), actions[2])
	assert.Contains(t, actions[2], "--db-port "+f.dbPort)

	rec := f.record(t)
	assert.Equal(t, "2.0", rec.Value(state.FieldProductVersion))
	assert.Equal(t, "GUID-1", rec.Value(state.FieldProductInstanceID))
	assert.Equal(t, "Server", rec.Value(state.FieldProductName))

	script := f.script(t)
	assert.Contains(t, script, "`id -u root`")
	assert.Contains(t, script, "is_updating=:")
	assert.NotContains(t, script, "is_updating=false")
}

func TestProvisionInstall_CurrentInstallRunsNoInstaller(t *testing.T) {
	f := newFakeInstall(t)
	require.NoError(t, os.WriteFile(f.cfg.CustomActions,
		[]byte(fmt.Sprintf("#!/bin/sh\necho \"$2\" >> %q\necho Result=NO_ACTION\n", f.logPath)), 0755))
	require.NoError(t, os.WriteFile(f.cfg.ConfigFile,
		[]byte("ProductInstanceID=GUID-1\nProductVersion=2.0\nProductName=Server\n"), 0644))

	require.NoError(t, provisionInstall(context.Background(), f.cfg, nil))

	assert.Equal(t, []string{"CheckVersion"}, f.actions(t))
	assert.Equal(t, "2.0", f.record(t).Value(state.FieldProductVersion))
}

func TestReadRuns_WhileRecorderLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	runs, err := readRuns(path, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "journal not written yet")

	journal := storage.NewRecorder(path, nil)
	journal.SetVerdict("NO_ACTION", "2.0", "2.0")

	runs, err = readRuns(path, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.OutcomeRunning, runs[0].Outcome)

	journal.Finish(0, nil)
	runs, err = readRuns(path, 10)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeOK, runs[0].Outcome)
}

func TestOpenJournal_PrunesAndReleasesLock(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Journal.Keep = 2

	for i := 0; i < 3; i++ {
		openJournal(cfg).Finish(0, nil)
	}

	journal := openJournal(cfg)
	require.NotNil(t, journal)

	// The server would be running now; history must still get in
	runs, err := readRuns(cfg.Journal.Path, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2, "one kept from before plus the live run")
	assert.Equal(t, journal.RunID(), runs[1].ID)
}

func TestOpenJournal_DisabledOrUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Enabled = false
	assert.Nil(t, openJournal(cfg))

	// A directory in place of the database file cannot be opened
	cfg.Journal.Enabled = true
	cfg.Journal.Path = t.TempDir()
	assert.Nil(t, openJournal(cfg))
}
