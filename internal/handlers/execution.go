// HTTP handlers for code execution.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"runbox/internal/executor"
	"runbox/internal/runtimes"
)

// ExecuteFileRequest is one submitted file in the API payload.
type ExecuteFileRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content"`
}

// ExecuteCodeRequest represents a code execution request. Files[0] is the
// entry file.
type ExecuteCodeRequest struct {
	Language         string               `json:"language" binding:"required"`
	Version          string               `json:"version" binding:"required"`
	Files            []ExecuteFileRequest `json:"files" binding:"required"`
	Stdin            string               `json:"stdin"`
	Args             []string             `json:"args"`
	Internet         bool                 `json:"internet"`
	TimeLimitSeconds float64              `json:"time_limit_seconds"`
	MemoryLimitMB    int64                `json:"memory_limit_mb"`
	ProcessLimit     int64                `json:"process_limit"`
}

// ExecuteCode handles POST /api/v1/execute.
func (h *Handler) ExecuteCode(c *gin.Context) {
	var req ExecuteCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   "Invalid request format: " + err.Error(),
			Code:    "INVALID_REQUEST",
		})
		return
	}

	files := make([]executor.SubmittedFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, executor.SubmittedFile{Name: f.Name, Content: []byte(f.Content)})
	}

	execReq := executor.Request{
		Language:     req.Language,
		Version:      req.Version,
		Files:        files,
		Stdin:        []byte(req.Stdin),
		Args:         req.Args,
		Internet:     req.Internet,
		TimeLimit:    time.Duration(req.TimeLimitSeconds * float64(time.Second)),
		MemoryMB:     req.MemoryLimitMB,
		ProcessLimit: req.ProcessLimit,
	}

	result, err := h.Exec.Execute(c.Request.Context(), execReq)
	if err != nil {
		status, code := mapExecuteError(err)
		c.JSON(status, StandardResponse{
			Success: false,
			Error:   err.Error(),
			Code:    code,
		})
		return
	}

	if h.History != nil {
		h.History.Record(result)
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data:    result,
	})
}

// GetRuntimes handles GET /api/v1/runtimes.
func (h *Handler) GetRuntimes(c *gin.Context) {
	list := h.Exec.Runtimes()
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data: map[string]interface{}{
			"runtimes": list,
			"total":    len(list),
		},
	})
}

// GetCapabilities handles GET /api/v1/capabilities.
func (h *Handler) GetCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data: map[string]interface{}{
			"sandbox_mode": string(h.Exec.Mode()),
			"probe_error":  h.Exec.ProbeError(),
		},
	})
}

// GetExecutions handles GET /api/v1/executions.
func (h *Handler) GetExecutions(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusNotFound, StandardResponse{
			Success: false,
			Error:   "Execution history is disabled",
			Code:    "HISTORY_DISABLED",
		})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := h.History.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, StandardResponse{
			Success: false,
			Error:   "Failed to read execution history",
			Code:    "HISTORY_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data: map[string]interface{}{
			"executions": recs,
			"total":      len(recs),
		},
	})
}

// GetExecution handles GET /api/v1/executions/:id.
func (h *Handler) GetExecution(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusNotFound, StandardResponse{
			Success: false,
			Error:   "Execution history is disabled",
			Code:    "HISTORY_DISABLED",
		})
		return
	}
	rec, err := h.History.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, StandardResponse{
			Success: false,
			Error:   "Execution not found",
			Code:    "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data:    rec,
	})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"sandbox_mode": string(h.Exec.Mode()),
	})
}

// mapExecuteError translates executor error kinds to HTTP status and code.
func mapExecuteError(err error) (int, string) {
	switch {
	case errors.Is(err, runtimes.ErrUnsupportedLanguage):
		return http.StatusBadRequest, "UNSUPPORTED_LANGUAGE"
	case errors.Is(err, runtimes.ErrRuntimeNotFound):
		return http.StatusBadRequest, "RUNTIME_NOT_FOUND"
	case errors.Is(err, executor.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, executor.ErrSandbox):
		return http.StatusServiceUnavailable, "SANDBOX_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
