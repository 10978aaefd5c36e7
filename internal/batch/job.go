// Package batch turns materialized configurations into schedulable work:
// one job per object, run locally or submitted to Slurm as independent
// submission units. Job state lives in the filesystem, not in a database;
// the presence and freshness of an identity's output record is the source
// of truth, so progress survives process restarts.
package batch

import (
	"os"

	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

// State is the lifecycle state of one job.
type State int

// Job states. Succeeded, Failed and Skipped are terminal.
const (
	StatePending State = iota
	StateConfigured
	StateRunning
	StateSucceeded
	StateFailed
	StateSkipped
)

var stateNames = map[State]string{
	StatePending:    "PENDING",
	StateConfigured: "CONFIGURED",
	StateRunning:    "RUNNING",
	StateSucceeded:  "SUCCEEDED",
	StateFailed:     "FAILED",
	StateSkipped:    "SKIPPED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}

// Job is one identity's unit of work: a materialized configuration in the
// work tree and the output record it is expected to produce.
type Job struct {
	Identity   ident.Identity
	ConfigPath string
	RecordPath string

	State  State
	Handle string // submission correlation ID, set at submit time
	Err    error  // cause of a FAILED state
}

// NewJob builds the job of one identity from the repository layout.
func NewJob(opts repo.Options, id ident.Identity) (*Job, error) {
	configPath, err := repo.ObjectConfigPath(opts, id)
	if err != nil {
		return nil, err
	}
	recordPath, err := repo.ObjectRecordPath(opts, id)
	if err != nil {
		return nil, err
	}
	j := &Job{
		Identity:   id,
		ConfigPath: configPath,
		RecordPath: recordPath,
	}
	j.Refresh()
	return j, nil
}

// Refresh reconstructs the job's state from the filesystem. A configuration
// makes the job CONFIGURED; an output record at least as new as the
// configuration makes it SUCCEEDED. Running jobs cannot be distinguished
// from pending ones here; only a live orchestrator knows about RUNNING.
func (j *Job) Refresh() {
	cfg, cfgErr := os.Stat(j.ConfigPath)
	rec, recErr := os.Stat(j.RecordPath)

	switch {
	case cfgErr != nil && recErr != nil:
		j.State = StatePending
	case recErr != nil:
		j.State = StateConfigured
	case cfgErr != nil:
		// Record without a configuration: a completed earlier run.
		j.State = StateSucceeded
	case !rec.ModTime().Before(cfg.ModTime()):
		j.State = StateSucceeded
	default:
		// Stale record, the configuration changed since it was written.
		j.State = StateConfigured
	}
}

// UpToDate reports whether the job's output record exists and is at least
// as new as its configuration. This is the idempotence check: an up-to-date
// job is skipped rather than resubmitted.
func (j *Job) UpToDate() bool {
	cfg, err := os.Stat(j.ConfigPath)
	if err != nil {
		return false
	}
	rec, err := os.Stat(j.RecordPath)
	if err != nil {
		return false
	}
	return !rec.ModTime().Before(cfg.ModTime())
}
