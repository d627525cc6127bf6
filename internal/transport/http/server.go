package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eventpipe/internal/config"
	"eventpipe/internal/transport/http/handlers"
	"eventpipe/internal/transport/http/middleware"
)

// Server is the ingest HTTP surface: POST /v1/events, POST
// /v1/events/batch, GET /v1/events/stats, plus health and metrics.
type Server struct {
	config            *config.Config
	logger            *logrus.Logger
	server            *http.Server
	engine            *gin.Engine
	handlers          *handlers.Handlers
	sdkAuthMiddleware *middleware.SDKAuthMiddleware
}

func NewServer(cfg *config.Config, logger *logrus.Logger, h *handlers.Handlers, sdkAuth *middleware.SDKAuthMiddleware) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	s := &Server{
		config:            cfg,
		logger:            logger,
		engine:            engine,
		handlers:          h,
		sdkAuthMiddleware: sdkAuth,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())
	s.engine.Use(middleware.MaxBodySize(s.config.Server.MaxRequestBodySize))
	if s.config.Server.EnableCORS {
		s.engine.Use(cors.New(s.corsConfig()))
	}

	s.engine.GET("/healthz", s.handlers.Health.Live)
	s.engine.GET("/readyz", s.handlers.Health.Ready)
	s.engine.GET("/metrics", s.handlers.Metrics.Handler)

	v1 := s.engine.Group("/v1")
	v1.Use(s.sdkAuthMiddleware.RequireAPIKey())
	{
		v1.POST("/events", s.handlers.Ingest.CreateEvent)
		v1.POST("/events/batch", s.handlers.Ingest.CreateEventBatch)
		v1.GET("/events/stats", s.handlers.Ingest.Stats)
	}
}

// corsConfig allows the configured origins to send the API-key header.
// Credentials stay disabled: ingestion auth is a bearer-style API key, not
// a cookie, so there is no wildcard/credentials conflict to guard against.
func (s *Server) corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowOrigins = s.config.Server.CORSAllowedOrigins
	c.AllowHeaders = append(c.AllowHeaders, "X-API-Key")
	return c
}

// Start runs the HTTP server until it is shut down. It returns nil on a
// clean shutdown (http.ErrServerClosed is not passed on) and the listener
// error otherwise.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
