package http

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/service"
)

// Dependencies are the services the router exposes. Verifier, Tokenizer and
// Metrics are optional.
type Dependencies struct {
	Client    *service.Client
	Verifier  *service.Verifier
	Tokenizer ports.Tokenizer
	Metrics   *monitoring.Metrics
	Logger    logging.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(deps.Logger), deps.Metrics.Middleware())

	handlers := NewAuthHandlers(deps.Client, deps.Verifier, deps.Tokenizer, deps.Logger)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", deps.Metrics.Handler())

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/sessions", handlers.CreateSession)
		auth.GET("/sessions/:id", handlers.GetSession)
		auth.DELETE("/sessions/:id", handlers.CancelSession)
		auth.POST("/sessions/:id/scan", handlers.ScanSession)
		auth.POST("/sessions/:id/confirm", handlers.ConfirmSession)
		auth.POST("/sessions/:id/reject", handlers.RejectSession)
		auth.GET("/sessions/:id/wait", handlers.WaitSession)
		auth.GET("/sessions/:id/events", handlers.SessionEvents)
		auth.POST("/callback", handlers.Callback)
		auth.POST("/verify", handlers.Verify)
		auth.GET("/subscription/:wallet", handlers.Subscription)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.Verifier, deps.Tokenizer))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
