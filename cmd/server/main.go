// runbox server: network-accessible sandboxed code execution.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"runbox/internal/config"
	"runbox/internal/executor"
	"runbox/internal/handlers"
	"runbox/internal/history"
	"runbox/internal/logging"
	"runbox/internal/metrics"
	"runbox/internal/middleware"
	"runbox/internal/runtimes"
	"runbox/internal/sandbox"
)

func main() {
	// Shim dispatch must run before anything else: in this mode the process
	// is the child-side limit installer, not the server.
	if len(os.Args) > 1 && os.Args[1] == sandbox.ShimCommand {
		sandbox.RunShim(os.Args[2:])
		return // unreachable; RunShim execs or exits
	}

	// .env is optional; the system environment still applies.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", zap.Error(err))
	}

	registry, err := runtimes.NewRegistry(cfg.PackagesRoot)
	if err != nil {
		logging.L().Fatal("runtime registry scan failed", zap.Error(err))
	}

	probe := sandbox.Run(cfg.SandboxHelperPath, cfg.UseSandbox)

	exec, err := executor.New(cfg, registry, probe)
	if err != nil {
		logging.L().Fatal("executor init failed", zap.Error(err))
	}

	hist, err := history.Open(cfg.HistoryDBPath, cfg.HistoryMaxRows)
	if err != nil {
		// The service runs without history rather than refusing to start.
		logging.L().Warn("execution history unavailable", zap.Error(err))
		hist = nil
	}

	handler := handlers.NewHandler(cfg, exec, hist)
	router := setupRouter(cfg, handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.MaxTimeLimit + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.L().Info("runbox server starting",
			zap.String("port", cfg.Port),
			zap.String("sandbox_mode", string(probe.Mode())),
			zap.String("packages_root", cfg.PackagesRoot))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.L().Error("forced shutdown", zap.Error(err))
	}
}

func setupRouter(cfg *config.Config, handler *handlers.Handler) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.RequestLogger(),
		metrics.PrometheusMiddleware(),
	)

	router.GET("/health", handler.Health)
	router.GET("/metrics", metrics.Handler())

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	api := router.Group("/api/v1")
	api.Use(
		middleware.RateLimit(limiter),
		middleware.RequireAuth(cfg.AuthJWTSecret),
	)
	{
		api.POST("/execute", handler.ExecuteCode)
		api.GET("/runtimes", handler.GetRuntimes)
		api.GET("/capabilities", handler.GetCapabilities)
		api.GET("/executions", handler.GetExecutions)
		api.GET("/executions/:id", handler.GetExecution)
	}

	return router
}
