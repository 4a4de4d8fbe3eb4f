package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/yourusername/site-monitor/core"
)

// Router sets up the API v1 routes
type Router struct {
	engine        *gin.Engine
	targetHandler *TargetHandler
	alertHandler  *AlertHandler
	systemHandler *SystemHandler
	eventHandler  *EventHandler
}

// NewRouter creates a new API v1 router
func NewRouter(app *core.App, cfg core.WebConfig) *Router {
	engine := gin.New()
	logger := app.Logger().Named("api")

	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(ErrorHandlingMiddleware(logger))
	engine.Use(CORSMiddleware(cfg.AllowedOrigins))
	engine.Use(SecurityHeadersMiddleware())
	engine.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	engine.Use(ValidationMiddleware())
	engine.Use(ContentTypeMiddleware())

	router := &Router{
		engine:        engine,
		targetHandler: NewTargetHandler(app),
		alertHandler:  NewAlertHandler(app),
		systemHandler: NewSystemHandler(app),
		eventHandler:  NewEventHandler(app, cfg.AllowedOrigins),
	}
	router.setupRoutes()
	return router
}

// GetEngine returns the gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	v1 := r.engine.Group("/v1")

	targets := v1.Group("/targets")
	{
		targets.GET("", r.targetHandler.ListTargets)
		targets.POST("", r.targetHandler.CreateTarget)
		targets.GET("/:id", r.targetHandler.GetTarget)
		targets.PUT("/:id", r.targetHandler.ReplaceTarget)
		targets.DELETE("/:id", r.targetHandler.DeleteTarget)

		targets.POST("/:id/pause", r.targetHandler.PauseTarget)
		targets.POST("/:id/resume", r.targetHandler.ResumeTarget)
		targets.POST("/:id/check", r.targetHandler.RunCheck)
		targets.GET("/:id/results", r.targetHandler.ListResults)
		targets.GET("/:id/summary", r.targetHandler.GetSummary)
	}

	alerts := v1.Group("/alerts")
	{
		alerts.GET("", r.alertHandler.ListAlerts)
		alerts.POST("/:id/ack", r.alertHandler.AcknowledgeAlert)
	}

	v1.GET("/status", r.systemHandler.GetStatus)
	v1.GET("/health", r.systemHandler.GetHealth)
	v1.GET("/db", r.systemHandler.GetDBProbe)
	v1.GET("/storage", r.systemHandler.GetStorage)
	v1.GET("/metrics", r.systemHandler.Metrics())
	v1.GET("/events", r.eventHandler.Stream)
}
