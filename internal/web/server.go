package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/health"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/monitor"
	"github.com/vzahanych/engagement-edge/internal/results"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/state"
	"github.com/vzahanych/engagement-edge/internal/storage"
	"github.com/vzahanych/engagement-edge/internal/telemetry"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config      *config.WebConfig
	logger      *logger.Logger
	httpServer  *http.Server
	listener    net.Listener
	router      *gin.Engine
	monitor     *monitor.Monitor     // Engagement pipeline
	healthMgr   *health.Manager      // Optional health checks
	stateMgr    *state.Manager       // Optional prediction log
	transmitter *results.Transmitter // Optional result upload stats
	configSvc   *config.Service      // Optional config service
	telemetry   *telemetry.Collector
	retention   *storage.RetentionPolicy
	version     string
	startTime   time.Time
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger(log.Named("http")))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies sets the engagement monitor and the optional collaborators
func (s *Server) SetDependencies(mon *monitor.Monitor, healthMgr *health.Manager, stateMgr *state.Manager, transmitter *results.Transmitter) {
	s.monitor = mon
	s.healthMgr = healthMgr
	s.stateMgr = stateMgr
	s.transmitter = transmitter
}

// SetConfigDependency sets dependency for configuration API
func (s *Server) SetConfigDependency(configSvc *config.Service) {
	s.configSvc = configSvc
}

// SetMaintenanceDependencies sets the telemetry collector and retention policy
func (s *Server) SetMaintenanceDependencies(collector *telemetry.Collector, retention *storage.RetentionPolicy) {
	s.telemetry = collector
	s.retention = retention
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Bind errors
// are returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopped)
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)
	s.router.GET("/health/services", s.handleServices)

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/config", s.handleGetConfig)
		api.GET("/telemetry", s.handleTelemetry)
		api.POST("/maintenance/retention", s.handleEnforceRetention)

		engagement := api.Group("/engagement")
		{
			engagement.GET("/status", s.handleEngagementStatus)
			engagement.POST("/initialize", s.handleInitialize)
			engagement.POST("/predict", s.handlePredict)

			models := engagement.Group("/models")
			{
				models.GET("", s.handleListModels)
				models.GET("/current", s.handleCurrentModel)
				models.PUT("/current", s.handleSwitchModel)
				models.POST("/current/reload", s.handleReloadModel)
			}

			collection := engagement.Group("/collection")
			{
				collection.POST("/start", s.handleStartCollection)
				collection.POST("/stop", s.handleStopCollection)
			}

			engagement.POST("/frames", s.handlePushFrame)
			engagement.POST("/frames/offer", s.handleOfferFrame)
			engagement.PUT("/video", s.handleSetVideo)

			fallback := engagement.Group("/fallback")
			{
				fallback.POST("/retry", s.handleRetry)
				fallback.POST("/local", s.handleForceLocal)
				fallback.POST("/remote", s.handleForceRemote)
			}

			engagement.GET("/predictions", s.handleListPredictions)
			engagement.GET("/results/stats", s.handleResultStats)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// requestLogger logs each request at debug, server errors at warn. Health
// probes are not logged.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/health") {
			return
		}
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("HTTP request failed", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

// corsMiddleware lets the player page call the API. "*" allows any origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := set[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
