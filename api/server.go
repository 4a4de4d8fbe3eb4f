package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	v1 "github.com/yourusername/site-monitor/api/v1"
	"github.com/yourusername/site-monitor/core"
	"github.com/yourusername/site-monitor/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// Server represents the API server
type Server struct {
	app      *core.App
	config   core.WebConfig
	v1Router *v1.Router
	engine   *gin.Engine
	logger   *zap.Logger
}

// NewServer creates a new API server
func NewServer(app *core.App, config core.WebConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		app:    app,
		config: config,
		engine: gin.New(),
		logger: app.Logger().Named("http"),
	}
	server.v1Router = v1.NewRouter(app, config)
	server.setupRoutes()
	return server
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())

	web.SetupWebRoutes(s.engine, s.app)

	s.engine.GET("/health", s.healthCheck)
	s.engine.Any("/v1/*path", s.v1Router.GetEngine().HandleContext)
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/dashboard")
	})
}

// healthCheck is a liveness probe that does not touch the engine
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"apis": []string{
			"/v1/targets",
			"/v1/alerts",
			"/v1/status",
			"/v1/health",
			"/v1/metrics",
			"/v1/events",
		},
	})
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// GetEngine returns the Gin engine (for testing purposes)
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// GetAccessURL returns the access URL for the API
func (s *Server) GetAccessURL() string {
	host := s.config.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.config.Port))
}

// PrintStartupInfo prints startup information
func (s *Server) PrintStartupInfo() {
	fmt.Printf("🚀 Site Monitor\n")
	fmt.Printf("📍 Dashboard: %s/dashboard\n", s.GetAccessURL())
	fmt.Printf("❤️  Health Check: %s/health\n", s.GetAccessURL())
	fmt.Printf("\nAvailable Endpoints:\n")
	fmt.Printf("  GET  /v1/targets              - List targets\n")
	fmt.Printf("  POST /v1/targets              - Register target\n")
	fmt.Printf("  POST /v1/targets/:id/check    - Run a check now\n")
	fmt.Printf("  GET  /v1/alerts               - List alerts\n")
	fmt.Printf("  GET  /v1/status               - Scheduler status\n")
	fmt.Printf("  GET  /v1/health               - Health report\n")
	fmt.Printf("  GET  /v1/metrics              - Prometheus metrics\n")
	fmt.Printf("  GET  /v1/events               - Event stream (WebSocket)\n")
	fmt.Printf("\nPress Ctrl+C to stop the server\n")
}
