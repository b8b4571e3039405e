package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/api"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/dispatch"
	"github.com/webpilot-ai/webpilot/internal/logging"
	"github.com/webpilot-ai/webpilot/internal/planner"
	"github.com/webpilot-ai/webpilot/internal/ratelimit"
	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/internal/ws"
)

func main() {
	// Load .env file, falling back to system environment variables
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	log := logging.Component(logger, "main")

	log.Info("starting webpilot control plane")

	// Background context for long-running loops, cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session registry
	registry := session.NewRegistry(session.Config{
		MaxSessions:         cfg.MaxSessions,
		SweepInterval:       cfg.SweepInterval,
		ConnectedIdleTTL:    cfg.ConnectedIdleTTL,
		DisconnectedIdleTTL: cfg.DisconnectedIdleTTL,
	}, logging.Component(logger, "session"))

	// Websocket connection manager
	wsManager := ws.NewManager(registry, cfg.AllowedOrigins, cfg.HeartbeatInterval, logging.Component(logger, "ws"))

	// Headless browser pool
	pool, err := browser.NewPool(browser.Config{
		ChromePath:    cfg.ChromePath,
		ChromeFlags:   cfg.ChromeFlags,
		UseDocker:     cfg.UseDocker,
		DockerImage:   cfg.DockerImage,
		LaunchTimeout: cfg.LaunchTimeout,
	}, logging.Component(logger, "browser"))
	if err != nil {
		log.WithError(err).Fatal("failed to create browser pool")
	}

	// Command dispatcher bridges the two execution paths
	dispatcher := dispatch.NewDispatcher(registry, wsManager, pool, dispatch.Config{
		DefaultTimeout:    cfg.DefaultCommandTimeout,
		MaxQueuedCommands: cfg.MaxQueuedCommands,
	}, logging.Component(logger, "dispatch"))
	wsManager.SetSink(dispatcher)

	// Session teardown fans out to the connection manager and the pool
	registry.AddReleaser(wsManager)
	registry.AddReleaser(pool)

	// Vision planner for the task agent loop
	plannerOpts := []planner.Option{planner.WithModel(cfg.PlannerModel)}
	if cfg.PlannerBaseURL != "" {
		plannerOpts = append(plannerOpts, planner.WithBaseURL(cfg.PlannerBaseURL))
	}
	provider, err := planner.NewProvider(cfg.PlannerAPIKey, logging.Component(logger, "planner"), plannerOpts...)
	if err != nil {
		log.WithError(err).Warn("planner unavailable, task endpoint will fail")
	}

	var loop *agent.Loop
	if provider != nil {
		loop = agent.NewLoop(dispatcher, provider, registry, agent.Config{
			MaxIterations: cfg.MaxIterations,
			ActionDelay:   cfg.ActionDelay,
			SettleDelay:   cfg.SettleDelay,
		}, logging.Component(logger, "agent"))
	}

	// Background loops
	go registry.StartSweeper(ctx)
	go wsManager.StartHeartbeat(ctx)

	// Rate limiter and HTTP surface
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	go rateLimiter.StartPruning(ctx, 10*time.Minute)
	handler := api.NewHandler(registry, dispatcher, loop, logging.Component(logger, "api"))
	router := handler.SetupRoutes(wsManager, rateLimiter, cfg.RateLimitPerHour)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // command and task requests block for their full timeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":         cfg.ListenAddr,
			"max_sessions": cfg.MaxSessions,
			"docker":       cfg.UseDocker,
		}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}

	pool.DisposeAll()
	log.Info("server stopped")
}
