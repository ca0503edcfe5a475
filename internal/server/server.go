package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/handlers"
)

// Options configures the HTTP server
type Options struct {
	Port         int
	Verbose      bool
	WebhookPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router  *gin.Engine
	handler *handlers.Handler
	opts    Options
	logger  *zap.Logger
	srv     *http.Server
}

// NewServer creates a new HTTP server
func NewServer(handler *handlers.Handler, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/api/webhooks/freepik"
	}

	if opts.Verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		handler: handler,
		opts:    opts,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), requestID(), s.accessLog())

	apiGroup := s.router.Group("/api")
	{
		apiGroup.POST("/generate-image", s.handler.GenerateImage)
		apiGroup.GET("/task-status", s.handler.TaskStatus)
	}

	s.router.POST(s.opts.WebhookPath, s.handler.ReceiveWebhook)
	s.router.GET(s.opts.WebhookPath, s.handler.GetWebhookResult)

	s.router.GET("/health", s.handler.Health)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting gateway server",
		zap.Int("port", s.opts.Port),
		zap.Strings("endpoints", []string{
			"POST /api/generate-image",
			"GET  /api/task-status",
			"POST " + s.opts.WebhookPath,
			"GET  " + s.opts.WebhookPath,
			"GET  /health",
		}),
	)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requestID propagates the caller's X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(api.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(api.HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	}
}
