// Package handlers implements the runbox REST API.
package handlers

import (
	"runbox/internal/config"
	"runbox/internal/executor"
	"runbox/internal/history"
)

// Handler contains all the dependencies for API handlers.
type Handler struct {
	Cfg     *config.Config
	Exec    *executor.Executor
	History *history.Store
}

// NewHandler creates a new handler instance. History may be nil when
// persistence is disabled.
func NewHandler(cfg *config.Config, exec *executor.Executor, hist *history.Store) *Handler {
	return &Handler{
		Cfg:     cfg,
		Exec:    exec,
		History: hist,
	}
}

// StandardResponse represents a standard API response.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}
