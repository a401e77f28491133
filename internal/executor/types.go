// Package executor carries a single code execution request end-to-end:
// workspace preparation, command construction for the active sandbox mode,
// launch and supervision under resource ceilings, stdio capture with
// truncation, outcome classification, and teardown.
package executor

import (
	"errors"
	"time"
)

// SubmittedFile is one file of a request bundle. Name is a workspace-relative
// path; Files[0] of a request is the entry file.
type SubmittedFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Request is one execution request. Executor.Execute validates it and fills
// limit defaults before any filesystem work.
type Request struct {
	Language string          `json:"language"`
	Version  string          `json:"version"`
	Files    []SubmittedFile `json:"files"`
	Stdin    []byte          `json:"stdin,omitempty"`
	Args     []string        `json:"args,omitempty"`
	Internet bool            `json:"internet"`

	TimeLimit    time.Duration `json:"-"`
	MemoryMB     int64         `json:"memory_limit_mb"`
	ProcessLimit int64         `json:"process_limit"`
}

// Outcome classifies how an execution ended. Every outcome is a successful
// service response, even when the user's code did not complete normally.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeMemoryExceeded Outcome = "memory_exceeded"
	OutcomeOutputExceeded Outcome = "output_exceeded"
	OutcomeRuntimeError   Outcome = "runtime_error"
	OutcomeSandboxError   Outcome = "sandbox_error"
	OutcomeCancelled      Outcome = "cancelled"
)

// Result is the captured outcome of one execution.
type Result struct {
	ID              string  `json:"id"`
	Language        string  `json:"language"`
	ResolvedVersion string  `json:"resolved_version"`
	Outcome         Outcome `json:"outcome"`

	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`

	ExitCode *int `json:"exit_code"`
	Signal   *int `json:"termination_signal"`

	WallTimeMs int64 `json:"wall_time_ms"`
	CPUTimeMs  int64 `json:"cpu_time_ms"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	SandboxMode string `json:"sandbox_mode"`
}

// Error kinds surfaced across the API boundary. Execution outcomes are never
// errors; these cover requests that produce no Result.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrSandbox        = errors.New("sandbox error")
	ErrInternal       = errors.New("internal error")
)
