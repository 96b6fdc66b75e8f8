package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/xpanvictor/migoto-coach/internal/config"
	"github.com/xpanvictor/migoto-coach/internal/handlers"
	"github.com/xpanvictor/migoto-coach/internal/handlers/websocket"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"

	_ "github.com/xpanvictor/migoto-coach/docs"
)

type Dependencies struct {
	Logger           *Logger.Logger
	Configs          *config.Settings
	Validator        handlers.TokenValidator
	WebSocketHandler *websocket.WebSocketHandler
	SessionHandler   *handlers.SessionHandler
	Registry         *prometheus.Registry
}

// InitializeRoutes mounts health, metrics, docs, the conversation socket
// and the session REST endpoints.
func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))
	r.Use(handlers.CORSMiddleware())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, handlers.HealthResponse{
			Status:      "ok",
			Connections: dep.WebSocketHandler.ConnectionCount(),
		})
	})
	if dep.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(dep.Registry, promhttp.HandlerOpts{})))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := handlers.AuthMiddleware(dep.Validator, dep.Configs.Auth.Optional, dep.Logger)

	ws := r.Group("/ws", auth)
	dep.WebSocketHandler.RegisterRoutes(ws)

	api := r.Group("/api/v1", auth)
	api.GET("/sessions/:id/transcript", dep.SessionHandler.GetTranscript)
	api.GET("/sessions/:id/report", dep.SessionHandler.GetReport)
	api.GET("/attempts", dep.SessionHandler.ListAttempts)
}
