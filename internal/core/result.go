package core

import (
	"time"

	"pipeweld/internal/artifact"
)

// Status is the outcome of a single stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped, StatusAborted:
		return true
	default:
		return false
	}
}

// RunState is the overall pipeline state.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

// Terminal reports whether the run state is final.
func (s RunState) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunAborted:
		return true
	default:
		return false
	}
}

// StepResult captures one subprocess invocation.
type StepResult struct {
	Command  string    `json:"command"`
	ExitCode int       `json:"exitCode"`
	Stdout   string    `json:"stdout,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// StageResult is the immutable outcome of one stage. It is created when the
// stage finishes and never mutated afterwards.
type StageResult struct {
	Name      string              `json:"name"`
	Status    Status              `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Started   time.Time           `json:"started"`
	Finished  time.Time           `json:"finished"`
	Steps     []StepResult        `json:"steps,omitempty"`
	Children  []*StageResult      `json:"children,omitempty"`
	Artifacts []artifact.Artifact `json:"artifacts,omitempty"`
	LogPath   string              `json:"logPath,omitempty"`

	// Err carries the failure cause for in-process callers; Reason mirrors
	// it for serialized results.
	Err error `json:"-"`
}

// RunResult is the result tree for a whole pipeline run.
type RunResult struct {
	RunID    string         `json:"runId"`
	Pipeline string         `json:"pipeline"`
	State    RunState       `json:"state"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Stages   []*StageResult `json:"stages"`
	Warnings []string       `json:"warnings,omitempty"`
	Reason   string         `json:"reason,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether any stage in the tree ended in failure.
func (r *RunResult) Failed() bool {
	for _, st := range r.Stages {
		if stageFailed(st) {
			return true
		}
	}
	return false
}

func stageFailed(st *StageResult) bool {
	if st.Status == StatusFailure {
		return true
	}
	for _, c := range st.Children {
		if stageFailed(c) {
			return true
		}
	}
	return false
}

// StageByName returns the result for a named stage anywhere in the tree.
func (r *RunResult) StageByName(name string) *StageResult {
	var find func(list []*StageResult) *StageResult
	find = func(list []*StageResult) *StageResult {
		for _, st := range list {
			if st.Name == name {
				return st
			}
			if got := find(st.Children); got != nil {
				return got
			}
		}
		return nil
	}
	return find(r.Stages)
}
