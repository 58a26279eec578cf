package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"homeassist/internal/metrics"
	"homeassist/internal/web/api"
	"homeassist/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds HTTP server settings
type Config struct {
	Addr           string
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

type WebServer struct {
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
}

// NewWebServer builds the router. /healthz and /metrics stay outside
// authentication and rate limiting.
func NewWebServer(cfg Config, deps api.Dependencies, logger *zap.Logger) *WebServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Logger = logger

	router := gin.New()
	router.Use(gin.Recovery())

	middlewareManager := middleware.NewMiddlewareManager(cfg.JWTSecret, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	router.Use(middlewareManager.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.Scheduler != nil {
			body["scheduler"] = deps.Scheduler.Statistics().State
		}
		c.JSON(http.StatusOK, body)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	protected := router.Group("")
	protected.Use(middlewareManager.RequireAuth(), middlewareManager.RateLimit())
	api.RegisterAutomationRoutes(protected, deps)
	api.RegisterConversationRoutes(protected, deps)
	api.RegisterSchedulerRoutes(protected, deps)
	api.RegisterDeviceRoutes(protected, deps)

	return &WebServer{
		router: router,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called
func (ws *WebServer) Start() error {
	ws.logger.Info("http server listening", zap.String("addr", ws.server.Addr))
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}
