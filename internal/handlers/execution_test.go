package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runbox/internal/config"
	"runbox/internal/executor"
	"runbox/internal/history"
	"runbox/internal/runtimes"
	"runbox/internal/sandbox"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestMain mirrors the production shim dispatch so executions spawned from
// these handler tests can re-invoke the test binary as the limit shim.
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
		t.Skip("bash not available, skipping handler execution tests")
	}
}

func newTestHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()

	cfg := &config.Config{
		PackagesRoot:       t.TempDir(),
		WorkspaceRoot:      t.TempDir(),
		UseSandbox:         false,
		DefaultTimeLimit:   2 * time.Second,
		MaxTimeLimit:       10 * time.Second,
		DefaultMemoryMB:    256,
		MaxMemoryMB:        1024,
		DefaultProcesses:   128,
		MaxProcesses:       256,
		MaxFiles:           8,
		MaxFileBytes:       1 << 16,
		MaxTotalBytes:      1 << 18,
		MaxStdinBytes:      1 << 16,
		MaxArgs:            8,
		MaxNameLen:         64,
		MaxStdoutBytes:     1 << 16,
		MaxStderrBytes:     1 << 16,
		MaxFDs:             256,
		MaxOutputFileBytes: 1 << 20,
		SigtermGrace:       300 * time.Millisecond,
		HistoryMaxRows:     100,
	}

	binDir := filepath.Join(cfg.PackagesRoot, "bash", "5.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.Symlink("/bin/bash", filepath.Join(binDir, "bash")))

	registry, err := runtimes.NewRegistry(cfg.PackagesRoot)
	require.NoError(t, err)
	probe := sandbox.Run("/nonexistent/bwrap", false)
	exec, err := executor.New(cfg, registry, probe)
	require.NoError(t, err)
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"), cfg.HistoryMaxRows)
	require.NoError(t, err)

	h := NewHandler(cfg, exec, hist)

	router := gin.New()
	router.GET("/health", h.Health)
	api := router.Group("/api/v1")
	{
		api.POST("/execute", h.ExecuteCode)
		api.GET("/runtimes", h.GetRuntimes)
		api.GET("/capabilities", h.GetCapabilities)
		api.GET("/executions", h.GetExecutions)
		api.GET("/executions/:id", h.GetExecution)
	}
	return h, router
}

func postExecute(t *testing.T, router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestExecuteCodeHappyPath(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	w := postExecute(t, router, ExecuteCodeRequest{
		Language: "bash",
		Version:  "5.0",
		Files:    []ExecuteFileRequest{{Name: "main.sh", Content: "echo hi\n"}},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool            `json:"success"`
		Data    executor.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, executor.OutcomeCompleted, resp.Data.Outcome)
	assert.Equal(t, "hi\n", resp.Data.Stdout)
	require.NotNil(t, resp.Data.ExitCode)
	assert.Equal(t, 0, *resp.Data.ExitCode)
	assert.NotEmpty(t, resp.Data.ID)
}

func TestExecuteCodeRecordsHistory(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	w := postExecute(t, router, ExecuteCodeRequest{
		Language: "bash",
		Version:  "5.0",
		Files:    []ExecuteFileRequest{{Name: "main.sh", Content: "exit 3\n"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data executor.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	lw := httptest.NewRecorder()
	router.ServeHTTP(lw, httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+resp.Data.ID, nil))
	require.Equal(t, http.StatusOK, lw.Code)
	assert.Contains(t, lw.Body.String(), "runtime_error")
}

func TestExecuteCodeValidationFailures(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	t.Run("malformed json", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader([]byte("{nope")))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	})

	t.Run("unsupported language", func(t *testing.T) {
		w := postExecute(t, router, ExecuteCodeRequest{
			Language: "cobol",
			Version:  "1",
			Files:    []ExecuteFileRequest{{Name: "m", Content: "x"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "UNSUPPORTED_LANGUAGE")
	})

	t.Run("unknown version", func(t *testing.T) {
		w := postExecute(t, router, ExecuteCodeRequest{
			Language: "bash",
			Version:  "9.9",
			Files:    []ExecuteFileRequest{{Name: "m", Content: "x"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "RUNTIME_NOT_FOUND")
	})

	t.Run("path traversal", func(t *testing.T) {
		w := postExecute(t, router, ExecuteCodeRequest{
			Language: "bash",
			Version:  "5.0",
			Files:    []ExecuteFileRequest{{Name: "../evil", Content: "x"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	})
}

func TestGetRuntimes(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runtimes", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bash")
	assert.Contains(t, w.Body.String(), "5.0")
}

func TestGetCapabilities(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "direct")
}

func TestHealth(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestGetExecutionsPagination(t *testing.T) {
	skipIfNoBash(t)
	_, router := newTestHandler(t)

	for i := 0; i < 3; i++ {
		w := postExecute(t, router, ExecuteCodeRequest{
			Language: "bash",
			Version:  "5.0",
			Files:    []ExecuteFileRequest{{Name: "main.sh", Content: fmt.Sprintf("echo %d\n", i)}},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Total int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Total)
}
