package storage

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the final state of a recorded run
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
)

// Run is one container start as recorded in the boot journal
type Run struct {
	ID               string    `json:"id" yaml:"id"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Verdict          string    `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	InstalledVersion string    `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
	CurrentVersion   string    `json:"current_version,omitempty" yaml:"current_version,omitempty"`
	Steps            []Step    `json:"steps,omitempty" yaml:"steps,omitempty"`
	Outcome          Outcome   `json:"outcome" yaml:"outcome"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	ExitCode         int       `json:"exit_code" yaml:"exit_code"`
}

// Step is one provisioning step within a run
type Step struct {
	Name      string        `json:"name" yaml:"name"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRun starts a run record with a fresh ID
func NewRun(now time.Time) *Run {
	return &Run{
		ID:        uuid.New().String(),
		StartedAt: now,
		Outcome:   OutcomeRunning,
	}
}

// Store defines the interface for the boot journal
type Store interface {
	SaveRun(run *Run) error
	GetRun(id string) (*Run, error)
	ListRuns() ([]*Run, error)
	Prune(keep int) (int, error)
	Close() error
}
