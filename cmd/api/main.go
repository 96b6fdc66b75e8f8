package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/migoto-coach/internal/app"
	"github.com/xpanvictor/migoto-coach/internal/config"
	"github.com/xpanvictor/migoto-coach/internal/server"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

// @title Migoto Coach API
// @version 1.0
// @description Conversation practice sessions: transcripts, reports and attempt history.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := Logger.BuildLogger(cfg.Debug, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger.Infow("Logger initialized", "env", cfg.Env, "stt", cfg.Voice.STTBackend)

	db, rc, err := app.Connect(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to connect stores: %v", err)
	}
	application, err := app.NewApp(cfg, logger, db, rc)
	if err != nil {
		logger.Fatalf("Failed to wire application: %v", err)
	}
	defer application.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	server.InitializeRoutes(router, application.ServerDeps)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server exiting: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
	logger.Info("Shutdown complete")
}
