package executor

import (
	"strings"
	"syscall"

	"runbox/internal/sandbox"
)

// childFacts collects everything observed about the child after exit, as
// input to outcome classification.
type childFacts struct {
	exitCode       int  // valid when signaled is false
	signaled       bool
	signal         syscall.Signal
	deadlineFired  bool
	cancelled      bool
	outputExceeded bool
	memoryLimited  bool
	stderr         string
}

// oomMarkers are allocator failure signatures. An allocation failure under
// RLIMIT_AS usually surfaces as a non-zero exit with one of these on stderr
// rather than as a kill signal.
var oomMarkers = []string{
	"MemoryError",
	"std::bad_alloc",
	"OutOfMemoryError",
	"heap out of memory",
	"Cannot allocate memory",
	"ENOMEM",
}

// classify maps observed child facts to an outcome. First match wins.
func classify(f childFacts) Outcome {
	switch {
	case f.cancelled:
		return OutcomeCancelled
	case f.deadlineFired:
		return OutcomeTimedOut
	case f.outputExceeded:
		return OutcomeOutputExceeded
	case f.signaled && f.signal == syscall.SIGKILL && f.memoryLimited:
		return OutcomeMemoryExceeded
	case f.signaled && f.signal == syscall.SIGXCPU:
		// CPU ceiling hit before the wall clock; same contract as a timeout.
		return OutcomeTimedOut
	case f.signaled:
		return OutcomeRuntimeError
	case f.exitCode == sandbox.LimitSetupExitCode:
		return OutcomeSandboxError
	case f.exitCode != 0 && f.memoryLimited && hasOOMMarker(f.stderr):
		return OutcomeMemoryExceeded
	case f.exitCode != 0:
		return OutcomeRuntimeError
	default:
		return OutcomeCompleted
	}
}

func hasOOMMarker(stderr string) bool {
	for _, m := range oomMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
