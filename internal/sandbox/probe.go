// Package sandbox provides the namespace-isolation probe, the bubblewrap
// command construction for namespaced executions, and the pre-exec resource
// limit shim shared by both execution modes.
package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"runbox/internal/logging"
)

// Mode is the process-wide isolation mode, resolved once at startup.
type Mode string

const (
	// ModeNamespaced means the bubblewrap helper works on this host and every
	// execution gets user/pid/mount/ipc/uts namespace isolation, plus a net
	// namespace unless the request allows internet access.
	ModeNamespaced Mode = "namespaced"
	// ModeDirect means executions run with resource limits only.
	ModeDirect Mode = "direct"
)

// probeTimeout bounds the helper functionality check. Hosts where namespace
// creation hangs (some container runtimes) must not stall startup.
const probeTimeout = 2 * time.Second

// Probe holds the cached isolation mode and, for Direct mode, the reason the
// helper was rejected. Read-only after Run.
type Probe struct {
	mode       Mode
	helperPath string
	probeErr   string
}

// Run determines whether the namespace helper actually functions. Having the
// helper installed is not evidence of function: containerized and WSL hosts
// ship bwrap but cannot create user namespaces.
func Run(helperPath string, useSandbox bool) *Probe {
	p := &Probe{mode: ModeDirect, helperPath: helperPath}

	if !useSandbox {
		p.probeErr = "sandbox disabled by configuration"
		logging.L().Info("sandbox probe skipped", zap.String("mode", string(p.mode)))
		return p
	}

	info, err := os.Stat(helperPath)
	if err != nil {
		p.probeErr = "sandbox helper not found: " + err.Error()
		logging.L().Warn("sandbox helper missing, falling back to direct mode",
			zap.String("helper", helperPath))
		return p
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		p.probeErr = "sandbox helper is not executable: " + helperPath
		logging.L().Warn("sandbox helper not executable, falling back to direct mode",
			zap.String("helper", helperPath))
		return p
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	// Minimal run that exercises exactly the namespaces executions need.
	cmd := exec.CommandContext(ctx, helperPath,
		"--unshare-user",
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--dev-bind", "/", "/",
		"--",
		"/bin/true",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.probeErr = "sandbox probe failed: " + err.Error()
		if s := stderr.String(); s != "" {
			p.probeErr += ": " + s
		}
		logging.L().Warn("namespace probe failed, falling back to direct mode",
			zap.String("helper", helperPath),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return p
	}

	p.mode = ModeNamespaced
	p.probeErr = ""
	logging.L().Info("namespace sandbox available", zap.String("helper", helperPath))
	return p
}

// Mode returns the cached isolation mode.
func (p *Probe) Mode() Mode { return p.mode }

// HelperPath returns the probed helper binary path.
func (p *Probe) HelperPath() string { return p.helperPath }

// Error returns the probe failure detail for the capabilities surface, empty
// in Namespaced mode.
func (p *Probe) Error() string { return p.probeErr }
