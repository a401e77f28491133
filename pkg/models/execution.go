// Package models defines persisted records for the runbox service.
package models

import "time"

// ExecutionRecord is one row of execution history. The service keeps
// outcomes and accounting only; stdout/stderr are returned to the caller and
// never persisted.
type ExecutionRecord struct {
	ID          uint      `gorm:"primarykey" json:"-"`
	ExecutionID string    `gorm:"uniqueIndex;size:64" json:"id"`
	Language    string    `gorm:"index;size:32" json:"language"`
	Version     string    `gorm:"size:32" json:"resolved_version"`
	Outcome     string    `gorm:"index;size:32" json:"outcome"`
	ExitCode    *int      `json:"exit_code"`
	Signal      *int      `json:"termination_signal"`
	WallTimeMs  int64     `json:"wall_time_ms"`
	CPUTimeMs   int64     `json:"cpu_time_ms"`
	StdoutBytes int64     `json:"stdout_bytes"`
	StderrBytes int64     `json:"stderr_bytes"`
	Truncated   bool      `json:"truncated"`
	SandboxMode string    `gorm:"size:16" json:"sandbox_mode"`
	CreatedAt   time.Time `json:"created_at"`
}
