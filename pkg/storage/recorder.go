package storage

import (
	"time"

	"github.com/cuemby/protect-init/pkg/log"
)

// Recorder writes one run to the journal as it progresses. Every update
// opens the journal, saves the run and closes it again, so the file lock is
// only held for the duration of a write and `history` can read the journal
// while the server runs. Journal failures are logged and never fail the run.
// A nil *Recorder is a valid no-op recorder.
type Recorder struct {
	path string
	run  *Run
	now  func() time.Time
}

// NewRecorder starts a run in the journal at path
func NewRecorder(path string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	r := &Recorder{
		path: path,
		run:  NewRun(now()),
		now:  now,
	}
	r.save()
	return r
}

// RunID returns the journal ID of the current run
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.run.ID
}

// Run returns the run as recorded so far
func (r *Recorder) Run() *Run {
	if r == nil {
		return nil
	}
	return r.run
}

// SetVerdict records the lifecycle verdict
func (r *Recorder) SetVerdict(verdict, installed, current string) {
	if r == nil {
		return
	}
	r.run.Verdict = verdict
	r.run.InstalledVersion = installed
	r.run.CurrentVersion = current
	r.save()
}

// StepFinished records one provisioning step
func (r *Recorder) StepFinished(name string, started time.Time, duration time.Duration, err error) {
	if r == nil {
		return
	}
	step := Step{Name: name, StartedAt: started, Duration: duration}
	if err != nil {
		step.Error = err.Error()
	}
	r.run.Steps = append(r.run.Steps, step)
	r.save()
}

// Finish closes the run with the entrypoint's exit code
func (r *Recorder) Finish(exitCode int, err error) {
	if r == nil {
		return
	}
	r.run.FinishedAt = r.now()
	r.run.ExitCode = exitCode
	r.run.Outcome = OutcomeOK
	if err != nil {
		r.run.Outcome = OutcomeFailed
		r.run.Error = err.Error()
	}
	r.save()
}

func (r *Recorder) save() {
	logger := log.WithComponent("journal")

	store, err := NewBoltStore(r.path)
	if err != nil {
		logger.Warn().Err(err).Str("run_id", r.run.ID).Msg("Failed to open boot journal")
		return
	}
	defer store.Close()

	if err := store.SaveRun(r.run); err != nil {
		logger.Warn().Err(err).Str("run_id", r.run.ID).Msg("Failed to write boot journal")
	}
}
