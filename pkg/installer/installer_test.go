package installer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	output []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.err
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.output, f.err
}

func TestInstallDatabase(t *testing.T) {
	runner := &fakeRunner{}
	inst := New(runner)

	require.NoError(t, inst.InstallDatabase(context.Background(), false, []string{"--db-name", "era_db"}))
	require.NoError(t, inst.InstallDatabase(context.Background(), true, nil))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, DefaultScriptPath, runner.calls[0].name)
	assert.Equal(t, []string{"--install-type", "database", "--skip-license", "--db-name", "era_db"}, runner.calls[0].args)
	assert.Equal(t, []string{"--install-type", "database", "--skip-license", "--skip-cert"}, runner.calls[1].args)
}

func TestInstallDatabase_PropagatesExitCode(t *testing.T) {
	runner := &fakeRunner{err: &CommandError{Command: DefaultScriptPath, ExitCode: 7}}

	err := New(runner).InstallDatabase(context.Background(), false, nil)
	require.Error(t, err)

	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 7, code)
}

func TestCustomAction_Selector(t *testing.T) {
	runner := &fakeRunner{output: []byte("ok")}

	_, err := New(runner).CustomAction(context.Background(), "Something", []string{"--x", "1"})
	require.NoError(t, err)

	assert.Equal(t, DefaultCustomActionsPath, runner.calls[0].name)
	assert.Equal(t, []string{"-a", "Something", "--x", "1"}, runner.calls[0].args)
}

func TestLoadCorrectProductGUID(t *testing.T) {
	runner := &fakeRunner{output: []byte("P_PRODUCT_GUID=8f1e7a2c-1111-2222-3333-444455556666\n")}

	guid, err := New(runner).LoadCorrectProductGUID(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "8f1e7a2c-1111-2222-3333-444455556666", guid)
	assert.Equal(t, ActionLoadCorrectProductGUID, runner.calls[0].args[1])
}

func TestLoadCorrectProductGUID_BadOutput(t *testing.T) {
	for _, out := range []string{"", "no delimiter\n", "P_PRODUCT_GUID=\n"} {
		runner := &fakeRunner{output: []byte(out)}
		_, err := New(runner).LoadCorrectProductGUID(context.Background(), nil)

		var oerr *OutputError
		assert.True(t, errors.As(err, &oerr), "output %q", out)
	}
}

func TestCheckVersion(t *testing.T) {
	runner := &fakeRunner{output: []byte("result=UPGRADE\n")}

	token, err := New(runner).CheckVersion(context.Background(), "1.0", "2.0")
	require.NoError(t, err)
	assert.Equal(t, "UPGRADE", token)
	assert.Equal(t, []string{
		"-a", ActionCheckVersion,
		"--installed-version", "1.0",
		"--current-version", "2.0",
	}, runner.calls[0].args)
}

func TestParseValue_UsesLastLine(t *testing.T) {
	v, err := ParseValue("X", []byte("some banner\nresult=NONE\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "NONE", v)
}

func TestParseInstalledData(t *testing.T) {
	out := []byte("P_DB_HOSTNAME=db.local\nP_DB_PORT=3307\ngarbage line\nA=B=C\n\nP_DB_NAME=era_db\r\n")

	data := ParseInstalledData(out)
	assert.Equal(t, InstalledData{
		"P_DB_HOSTNAME": "db.local",
		"P_DB_PORT":     "3307",
		"P_DB_NAME":     "era_db",
	}, data)

	v, err := data.Require(DataDBPort)
	require.NoError(t, err)
	assert.Equal(t, "3307", v)

	_, err = data.Require(DataDBDriver)
	var merr *MissingKeyError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, DataDBDriver, merr.Key)
}

func TestCommandError_Message(t *testing.T) {
	err := &CommandError{Command: "CustomActions", ExitCode: 2, Stderr: "boom\n"}
	assert.Equal(t, "CustomActions failed with exit code 2: boom", err.Error())
}
