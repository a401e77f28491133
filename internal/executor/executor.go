package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"runbox/internal/config"
	"runbox/internal/logging"
	"runbox/internal/metrics"
	"runbox/internal/runtimes"
	"runbox/internal/sandbox"
)

// drainGrace bounds how long the supervisor waits for the stdio drains to hit
// EOF after the process group is dead.
const drainGrace = time.Second

// Executor composes the runtime registry, the sandbox probe, and the limit
// shim into the end-to-end execution pipeline. Safe for concurrent use; each
// execution owns its workspace and child process tree and shares nothing
// mutable with its peers.
type Executor struct {
	cfg      *config.Config
	registry *runtimes.Registry
	probe    *sandbox.Probe
	self     string
}

// New builds an Executor. The workspace root is created eagerly so the first
// request cannot fail on a missing directory.
func New(cfg *config.Config, registry *runtimes.Registry, probe *sandbox.Probe) (*Executor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own binary for limit shim: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Executor{cfg: cfg, registry: registry, probe: probe, self: self}, nil
}

// Mode returns the cached sandbox mode for the capabilities surface.
func (e *Executor) Mode() sandbox.Mode { return e.probe.Mode() }

// ProbeError returns the sandbox probe failure detail, empty when namespaced.
func (e *Executor) ProbeError() string { return e.probe.Error() }

// Runtimes lists the advertised language/version pairs.
func (e *Executor) Runtimes() []runtimes.LanguageVersions { return e.registry.List() }

// Execute carries one request end-to-end and returns its Result. Execution
// outcomes (timeouts, memory kills, crashes) are values on the Result; an
// error return means no execution was attempted or it could not be observed.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(e.cfg, &req); err != nil {
		return nil, err
	}

	desc, err := e.registry.Resolve(req.Language, req.Version)
	if err != nil {
		return nil, err
	}

	mode := e.probe.Mode()
	if !req.Internet && mode == sandbox.ModeDirect && e.cfg.UseSandbox {
		// Namespaces were requested by configuration but do not work here;
		// running anyway would silently grant network access the caller asked
		// us to deny.
		return nil, fmt.Errorf("%w: network isolation unavailable: %s", ErrSandbox, e.probe.Error())
	}

	execID := uuid.New().String()
	ws, err := newWorkspace(e.cfg.WorkspaceRoot, execID, req.Files, desc.EntryExecutable)
	if err != nil {
		return nil, err
	}
	defer ws.remove()

	metrics.Get().ExecutionsInFlight.Inc()
	defer metrics.Get().ExecutionsInFlight.Dec()

	result, err := e.run(ctx, execID, &req, desc, ws, mode)
	if err != nil {
		return nil, err
	}

	metrics.Get().RecordExecution(desc.Language, string(result.Outcome), result.WallTimeMs)
	logging.L().Info("execution finished",
		zap.String("id", execID),
		zap.String("language", desc.Language),
		zap.String("version", desc.ResolvedVersion),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("wall_ms", result.WallTimeMs))
	return result, nil
}

func (e *Executor) run(ctx context.Context, execID string, req *Request, desc *runtimes.Descriptor, ws *workspace, mode sandbox.Mode) (*Result, error) {
	limits := sandbox.LimitsFor(req.TimeLimit, req.MemoryMB, req.ProcessLimit, e.cfg.MaxFDs, e.cfg.MaxOutputFileBytes)

	target := desc.Argv(ws.entryRel, req.Args)
	if mode == sandbox.ModeNamespaced {
		helper := append([]string{e.probe.HelperPath()}, sandbox.HelperArgs(ws.root, e.cfg.PackagesRoot, req.Internet)...)
		target = append(helper, target...)
	}
	argv := sandbox.ShimArgv(e.self, limits, target)

	cmd := &exec.Cmd{
		Path: argv[0],
		Args: argv,
		Dir:  ws.root,
		Env:  e.childEnv(desc, ws, mode),
		// Own process group so the whole subtree is reachable by one signal.
		SysProcAttr: &syscall.SysProcAttr{Setpgid: true},
	}

	stdoutBuf := newCaptureBuffer(e.cfg.MaxStdoutBytes)
	stderrBuf := newCaptureBuffer(e.cfg.MaxStderrBytes)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrInternal, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrInternal, err)
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrInternal, err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.Stdin = inR

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("%w: start child: %v", ErrInternal, err)
	}
	pid := cmd.Process.Pid

	// Parent copies of the child's ends; the child keeps its own.
	outW.Close()
	errW.Close()
	inR.Close()

	// No exit path may leave group members alive behind the workspace delete.
	defer func() { _ = unix.Kill(-pid, unix.SIGKILL) }()

	var drains errgroup.Group
	drains.Go(func() error {
		_, err := io.Copy(stdoutBuf, outR)
		outR.Close()
		return err
	})
	drains.Go(func() error {
		_, err := io.Copy(stderrBuf, errR)
		errR.Close()
		return err
	})
	// Stdin is supplied once up front. A child that never reads blocks this
	// write until the kill cascade tears the pipe down (EPIPE).
	go func() {
		if len(req.Stdin) > 0 {
			_, _ = inW.Write(req.Stdin)
		}
		inW.Close()
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	deadline := time.NewTimer(req.TimeLimit + wallGrace)
	defer deadline.Stop()

	var facts childFacts
	facts.memoryLimited = req.MemoryMB > 0

	var waitErr error
	select {
	case waitErr = <-waitCh:
		// Exited on its own; sweep any stragglers in the group.
		_ = unix.Kill(-pid, unix.SIGKILL)
	case <-deadline.C:
		facts.deadlineFired = true
		waitErr = e.terminate(pid, waitCh)
	case <-ctx.Done():
		facts.cancelled = true
		waitErr = e.terminate(pid, waitCh)
	case <-stdoutBuf.Exceeded():
		facts.outputExceeded = true
		waitErr = e.terminate(pid, waitCh)
	case <-stderrBuf.Exceeded():
		facts.outputExceeded = true
		waitErr = e.terminate(pid, waitCh)
	}
	completedAt := time.Now()

	// The group is dead, so the drains hit EOF promptly; the bound guards
	// against a write end leaked outside the group.
	drainDone := make(chan struct{})
	go func() {
		_ = drains.Wait()
		close(drainDone)
	}()
	select {
	case <-drainDone:
	case <-time.After(drainGrace):
		outR.Close()
		errR.Close()
		<-drainDone
	}

	if waitErr != nil {
		ee, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("%w: wait for child: %v", ErrInternal, waitErr)
		}
		status, ok := ee.Sys().(syscall.WaitStatus)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected wait status %T", ErrInternal, ee.Sys())
		}
		if status.Signaled() {
			facts.signaled = true
			facts.signal = status.Signal()
		} else {
			facts.exitCode = status.ExitStatus()
		}
	}
	facts.stderr = stderrBuf.String()

	result := &Result{
		ID:              execID,
		Language:        desc.Language,
		ResolvedVersion: desc.ResolvedVersion,
		Outcome:         classify(facts),
		Stdout:          stdoutBuf.String(),
		Stderr:          facts.stderr,
		StdoutTruncated: stdoutBuf.Truncated(),
		StderrTruncated: stderrBuf.Truncated(),
		WallTimeMs:      completedAt.Sub(startedAt).Milliseconds(),
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		SandboxMode:     string(mode),
	}
	if facts.signaled {
		sig := int(facts.signal)
		result.Signal = &sig
	} else {
		code := facts.exitCode
		result.ExitCode = &code
	}
	if cmd.ProcessState != nil {
		if rusage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok {
			result.CPUTimeMs = rusage.Utime.Nano()/1e6 + rusage.Stime.Nano()/1e6
		}
	}
	return result, nil
}

// terminate runs the SIGTERM-then-SIGKILL cascade against the child's process
// group and returns the wait result. The group always ends dead.
func (e *Executor) terminate(pid int, waitCh <-chan error) error {
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case err := <-waitCh:
		_ = unix.Kill(-pid, unix.SIGKILL)
		return err
	case <-time.After(e.cfg.SigtermGrace):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	return <-waitCh
}

// childEnv builds the minimal safe environment: only the runtime's bin
// directory on PATH, a writable HOME, and the language table's adjustments.
// Nothing is inherited from the service process.
func (e *Executor) childEnv(desc *runtimes.Descriptor, ws *workspace, mode sandbox.Mode) []string {
	home := ws.root
	tmp := ws.root
	if mode == sandbox.ModeNamespaced {
		home = sandbox.WorkDir
		tmp = "/tmp"
	}
	env := []string{
		"PATH=" + desc.BinDir(),
		"HOME=" + home,
		"TMPDIR=" + tmp,
		"LANG=C.UTF-8",
	}
	for k, v := range desc.Env {
		env = append(env, k+"="+v)
	}
	return env
}
