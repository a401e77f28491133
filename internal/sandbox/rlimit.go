package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Limits is the hard per-process ceiling set installed in the child before
// user code runs. All limits are hard; none may be raised back by the child.
type Limits struct {
	CPUSeconds  uint64 `json:"cpu_seconds"`
	MemoryBytes uint64 `json:"memory_bytes"`
	FileBytes   uint64 `json:"file_bytes"`
	OpenFiles   uint64 `json:"open_files"`
	Processes   uint64 `json:"processes"`
}

// LimitsFor derives the ceiling set for one execution. CPU gets the wall
// limit rounded up: a process that burns CPU for its whole budget is stopped
// by SIGXCPU even if the wall timer has slack left.
func LimitsFor(timeLimit time.Duration, memoryMB, processes, maxFDs, maxFileBytes int64) Limits {
	return Limits{
		CPUSeconds:  uint64(math.Ceil(timeLimit.Seconds())),
		MemoryBytes: uint64(memoryMB) * 1024 * 1024,
		FileBytes:   uint64(maxFileBytes),
		OpenFiles:   uint64(maxFDs),
		Processes:   uint64(processes),
	}
}

// Apply installs the ceilings on the current process. Called only inside the
// sandbox-init shim, between spawn and exec.
func (l Limits) Apply() error {
	set := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"cpu", unix.RLIMIT_CPU, l.CPUSeconds},
		{"as", unix.RLIMIT_AS, l.MemoryBytes},
		{"fsize", unix.RLIMIT_FSIZE, l.FileBytes},
		{"nofile", unix.RLIMIT_NOFILE, l.OpenFiles},
		{"nproc", unix.RLIMIT_NPROC, l.Processes},
		{"core", unix.RLIMIT_CORE, 0},
	}
	for _, s := range set {
		rl := unix.Rlimit{Cur: s.value, Max: s.value}
		if err := unix.Setrlimit(s.resource, &rl); err != nil {
			return fmt.Errorf("setrlimit %s=%d: %w", s.name, s.value, err)
		}
	}
	return nil
}

// Encode serializes the limits for transport on the shim command line.
func (l Limits) Encode() string {
	b, _ := json.Marshal(l)
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeLimits parses a shim command-line limits argument.
func DecodeLimits(s string) (Limits, error) {
	var l Limits
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("decode limits: %w", err)
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("decode limits: %w", err)
	}
	return l, nil
}
