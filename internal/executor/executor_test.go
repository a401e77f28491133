package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runbox/internal/config"
	"runbox/internal/runtimes"
	"runbox/internal/sandbox"
)

// TestMain mirrors the production argv dispatch: when the executor re-invokes
// this binary as the limit shim, it must behave as the shim, not as the test
// suite.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == sandbox.ShimCommand {
		sandbox.RunShim(os.Args[2:])
		return
	}
	os.Exit(m.Run())
}

func skipIfNoBash(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available, skipping execution tests")
	}
}

// newTestExecutor fakes a packages tree with bash as the installed runtime
// and returns a direct-mode executor over it.
func newTestExecutor(t *testing.T, cfg *config.Config) *Executor {
	t.Helper()

	binDir := filepath.Join(cfg.PackagesRoot, "bash", "5.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.Symlink("/bin/bash", filepath.Join(binDir, "bash")))
	if _, err := os.Stat("/bin/sleep"); err == nil {
		require.NoError(t, os.Symlink("/bin/sleep", filepath.Join(binDir, "sleep")))
	} else {
		require.NoError(t, os.Symlink("/usr/bin/sleep", filepath.Join(binDir, "sleep")))
	}

	registry, err := runtimes.NewRegistry(cfg.PackagesRoot)
	require.NoError(t, err)

	probe := sandbox.Run("/nonexistent/bwrap", false)
	exec, err := New(cfg, registry, probe)
	require.NoError(t, err)
	return exec
}

func bashRequest(script string) Request {
	return Request{
		Language: "bash",
		Version:  "5.0",
		Files:    []SubmittedFile{{Name: "main.sh", Content: []byte(script)}},
	}
}

func TestExecuteHappyPath(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	res, err := exec.Execute(context.Background(), bashRequest("echo hi\n"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Nil(t, res.Signal)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.False(t, res.StdoutTruncated)
	assert.Equal(t, "5.0", res.ResolvedVersion)
	assert.Equal(t, string(sandbox.ModeDirect), res.SandboxMode)
}

func TestExecuteNonZeroExit(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	res, err := exec.Execute(context.Background(), bashRequest("exit 7\n"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRuntimeError, res.Outcome)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 7, *res.ExitCode)
}

func TestExecuteCapturesStderr(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	res, err := exec.Execute(context.Background(), bashRequest("echo oops 1>&2\nexit 1\n"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRuntimeError, res.Outcome)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Empty(t, res.Stdout)
}

func TestExecutePassesArgs(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	req := bashRequest("echo \"$1-$2\"\n")
	req.Args = []string{"hello", "world"}

	res, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello-world\n", res.Stdout)
}

func TestExecuteFeedsStdin(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	req := bashRequest("while IFS= read -r line; do echo \"got: $line\"; done\n")
	req.Stdin = []byte("one\ntwo\n")

	res, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "got: one\ngot: two\n", res.Stdout)
}

func TestExecuteWallTimeout(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	exec := newTestExecutor(t, cfg)

	req := bashRequest("sleep 10\n")
	req.TimeLimit = 300 * time.Millisecond

	start := time.Now()
	res, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second, "the cascade must not wait for the sleep")
	assert.Empty(t, res.Stdout)
}

func TestExecuteCancellation(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	req := bashRequest("sleep 10\n")
	res, err := exec.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestExecuteSignalDeath(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	res, err := exec.Execute(context.Background(), bashRequest("kill -SEGV $$\n"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRuntimeError, res.Outcome)
	require.NotNil(t, res.Signal)
	assert.Equal(t, 11, *res.Signal)
	assert.Nil(t, res.ExitCode)
}

func TestExecuteStdoutTruncation(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	cfg.MaxStdoutBytes = 1024
	exec := newTestExecutor(t, cfg)

	// Just over the soft cap, well under the escalation ceiling.
	res, err := exec.Execute(context.Background(),
		bashRequest("for i in {1..130}; do echo 0123456789; done\n"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.StdoutTruncated)
	assert.Contains(t, res.Stdout, "[output truncated")
	assert.LessOrEqual(t, len(res.Stdout), 1024+128, "clip plus marker")
}

func TestExecuteOutputExceeded(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	cfg.MaxStdoutBytes = 512
	exec := newTestExecutor(t, cfg)

	// Unbounded writer; must be stopped by escalation, not by the wall clock.
	req := bashRequest("while :; do echo 0123456789012345678901234567890123456789; done\n")
	req.TimeLimit = 5 * time.Second

	start := time.Now()
	res, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, OutcomeOutputExceeded, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.StdoutTruncated)
}

func TestExecuteRemovesWorkspace(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	exec := newTestExecutor(t, cfg)

	_, err := exec.Execute(context.Background(), bashRequest("echo hi\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.WorkspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must not survive the request")
}

func TestExecuteWorkspaceRemovedOnTimeout(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	exec := newTestExecutor(t, cfg)

	req := bashRequest("sleep 10\n")
	req.TimeLimit = 200 * time.Millisecond
	_, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.WorkspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteConcurrentIsolation(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			marker := strings.Repeat("x", n+1)
			res, err := exec.Execute(context.Background(), bashRequest("echo "+marker+"\n"))
			if err == nil {
				results[n] = res
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for i, res := range results {
		require.NotNil(t, res, "execution %d failed", i)
		assert.Equal(t, OutcomeCompleted, res.Outcome)
		assert.Equal(t, strings.Repeat("x", i+1)+"\n", res.Stdout, "no cross-execution interleaving")
		_, dup := seen[res.ID]
		assert.False(t, dup)
		seen[res.ID] = struct{}{}
	}
}

func TestExecuteUnknownRuntime(t *testing.T) {
	skipIfNoBash(t)
	exec := newTestExecutor(t, testConfig(t))

	_, err := exec.Execute(context.Background(), Request{
		Language: "cobol",
		Version:  "1",
		Files:    []SubmittedFile{{Name: "m", Content: []byte("x")}},
	})
	assert.ErrorIs(t, err, runtimes.ErrUnsupportedLanguage)

	_, err = exec.Execute(context.Background(), Request{
		Language: "bash",
		Version:  "9.9",
		Files:    []SubmittedFile{{Name: "m", Content: []byte("x")}},
	})
	assert.ErrorIs(t, err, runtimes.ErrRuntimeNotFound)
}

func TestExecuteRefusesUnisolatedNetworkDenial(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	// Namespaces requested by configuration but unavailable on this host.
	cfg.UseSandbox = true

	binDir := filepath.Join(cfg.PackagesRoot, "bash", "5.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.Symlink("/bin/bash", filepath.Join(binDir, "bash")))
	registry, err := runtimes.NewRegistry(cfg.PackagesRoot)
	require.NoError(t, err)
	probe := sandbox.Run("/nonexistent/bwrap", true)
	exec, err := New(cfg, registry, probe)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), bashRequest("echo hi\n"))
	assert.ErrorIs(t, err, ErrSandbox)

	// An execution that does not ask for network denial is allowed through.
	req := bashRequest("echo hi\n")
	req.Internet = true
	res, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestExecuteRejectsTraversalBeforeWorkspace(t *testing.T) {
	skipIfNoBash(t)
	cfg := testConfig(t)
	exec := newTestExecutor(t, cfg)

	_, err := exec.Execute(context.Background(), Request{
		Language: "bash",
		Version:  "5.0",
		Files:    []SubmittedFile{{Name: "../evil", Content: []byte("x")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	entries, err := os.ReadDir(cfg.WorkspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "no workspace may be created for a rejected request")
}
