package sandbox

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// ShimCommand is the hidden argv[1] that turns the service binary into the
// pre-exec limit shim. Go exposes no between-fork-and-exec hook, so the
// limits are installed by re-invoking this binary, which applies them to
// itself and then execs the real command. Rlimits survive exec, so they hold
// through the helper and into the interpreter.
const ShimCommand = "sandbox-init"

// LimitSetupExitCode is the distinctive status the shim exits with when a
// limit fails to apply. The executor classifies it as a sandbox error rather
// than a property of the user's code.
const LimitSetupExitCode = 86

// ShimArgv wraps a target argv in the limit shim invocation.
func ShimArgv(self string, limits Limits, target []string) []string {
	argv := make([]string, 0, 4+len(target))
	argv = append(argv, self, ShimCommand, limits.Encode(), "--")
	argv = append(argv, target...)
	return argv
}

// RunShim is the shim entry point, dispatched from main before any service
// bootstrap when argv[1] == ShimCommand. It never returns: it execs the
// target on success and exits with LimitSetupExitCode on any failure. It does
// not use the service logger, since its stdio belongs to the user's program;
// a failure to apply limits or to exec is reported as one "sandbox-init:" line
// on stderr.
func RunShim(args []string) {
	// args: [limits, "--", target...]
	if len(args) < 3 || args[1] != "--" {
		os.Exit(LimitSetupExitCode)
	}

	limits, err := DecodeLimits(args[0])
	if err != nil {
		os.Exit(LimitSetupExitCode)
	}
	if err := limits.Apply(); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-init:", err)
		os.Exit(LimitSetupExitCode)
	}

	target := args[2:]
	path, err := exec.LookPath(target[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-init:", err)
		os.Exit(LimitSetupExitCode)
	}
	if err := unix.Exec(path, target, os.Environ()); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-init:", err)
		os.Exit(LimitSetupExitCode)
	}
}
