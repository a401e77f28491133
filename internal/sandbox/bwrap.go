package sandbox

import "os"

// WorkDir is the fixed in-sandbox mount point of the per-execution workspace.
const WorkDir = "/app"

// sandboxHostname is a fixed non-identifying hostname for every execution.
const sandboxHostname = "runbox"

// systemBinds are host directories bound read-only so interpreters and the
// dynamic linker resolve. Missing directories are skipped.
var systemBinds = []string{
	"/usr",
	"/lib",
	"/lib64",
	"/bin",
	"/etc/alternatives",
}

// HelperArgs builds the bubblewrap argv (without the helper path itself) for
// one namespaced execution. The returned slice ends with "--"; the runtime
// argv is appended by the caller.
func HelperArgs(workspace, packagesRoot string, internet bool) []string {
	args := []string{
		"--die-with-parent",
		"--unshare-user",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup-try",
	}
	if !internet {
		args = append(args, "--unshare-net")
	}

	for _, dir := range systemBinds {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		args = append(args, "--ro-bind", dir, dir)
	}
	if _, err := os.Stat(packagesRoot); err == nil {
		// Runtime tree stays at its host path so interpreter shebangs and
		// relative rpaths keep working.
		args = append(args, "--ro-bind", packagesRoot, packagesRoot)
	}

	args = append(args,
		"--bind", workspace, WorkDir,
		"--chdir", WorkDir,
		"--tmpfs", "/tmp",
		"--proc", "/proc",
		"--dev", "/dev",
		"--hostname", sandboxHostname,
		"--cap-drop", "ALL",
		"--new-session",
		"--",
	)
	return args
}
