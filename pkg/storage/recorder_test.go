package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "journal", "protect-init.db")
}

func readRun(t *testing.T, path, id string) *Run {
	t.Helper()
	store, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer store.Close()

	run, err := store.GetRun(id)
	require.NoError(t, err)
	return run
}

func TestRecorder_PersistsEveryUpdate(t *testing.T) {
	path := journalPath(t)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(path, func() time.Time { return clock })

	assert.Equal(t, OutcomeRunning, readRun(t, path, rec.RunID()).Outcome)

	rec.SetVerdict("UPGRADE", "1.0", "2.0")
	rec.StepFinished("enable-update-mode", clock, time.Millisecond, nil)
	rec.StepFinished("load-installed-data", clock, time.Second, errors.New("exit status 3"))

	got := readRun(t, path, rec.RunID())
	assert.Equal(t, "UPGRADE", got.Verdict)
	assert.Equal(t, "2.0", got.CurrentVersion)
	require.Len(t, got.Steps, 2)
	assert.Empty(t, got.Steps[0].Error)
	assert.Equal(t, "exit status 3", got.Steps[1].Error)

	clock = clock.Add(time.Minute)
	rec.Finish(3, errors.New("load installed data failed"))

	got = readRun(t, path, rec.RunID())
	assert.Equal(t, OutcomeFailed, got.Outcome)
	assert.Equal(t, 3, got.ExitCode)
	assert.True(t, got.FinishedAt.Equal(clock))
}

func TestRecorder_FinishOK(t *testing.T) {
	path := journalPath(t)
	rec := NewRecorder(path, nil)
	rec.Finish(0, nil)

	got := readRun(t, path, rec.RunID())
	assert.Equal(t, OutcomeOK, got.Outcome)
	assert.Empty(t, got.Error)
}

func TestRecorder_JournalOpenableWhileRunLive(t *testing.T) {
	path := journalPath(t)
	rec := NewRecorder(path, nil)
	rec.SetVerdict("NO_ACTION", "2.0", "2.0")

	// The server is running and the run is not finished. Both a reader and
	// a writer must get the lock without waiting out the timeout.
	start := time.Now()
	reader, err := OpenReadOnly(path)
	require.NoError(t, err)
	runs, err := reader.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "NO_ACTION", runs[0].Verdict)
	require.NoError(t, reader.Close())

	writer, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Less(t, time.Since(start), lockTimeout)

	rec.Finish(0, nil)
	assert.Equal(t, OutcomeOK, readRun(t, path, rec.RunID()).Outcome)
}

func TestRecorder_UnwritableJournalIsNotFatal(t *testing.T) {
	// A directory where the database file should be makes every open fail
	path := t.TempDir()
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec = NewRecorder(path, nil)
		rec.StepFinished("install-database", time.Now(), time.Second, nil)
		rec.Finish(0, nil)
	})
	assert.Len(t, rec.Run().Steps, 1)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.SetVerdict("NEW_INSTALL", "", "")
		rec.StepFinished("install-database", time.Now(), time.Second, nil)
		rec.Finish(0, nil)
	})
	assert.Empty(t, rec.RunID())
	assert.Nil(t, rec.Run())
}

func TestOpenReadOnly_MissingJournal(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
