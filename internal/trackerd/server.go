// Package trackerd serves a Tracker over the JSON/HTTP API consumed by
// tracker.HTTPClient. It backs `treesync tracker serve`, giving local
// development a remote tracker with a real request quota.
package trackerd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/roach88/treesync/internal/tracker"
)

// Error codes of the ErrorBody envelope.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeRateLimited    = "rate_limited"
	CodeTimeout        = "timeout"
	CodeInternal       = "internal"
)

// Server is the tracker REST server.
type Server struct {
	backend tracker.Tracker
	router  *gin.Engine
	limiter *rate.Limiter
	token   string
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithRateLimit caps the request rate; requests over quota get 429.
// Default: unlimited.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server over backend.
func New(backend tracker.Tracker, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	api := router.Group("/v1", s.authenticate(), s.throttle())
	{
		api.POST("/objects", s.handleCreate)
		api.GET("/objects", s.handleList)
		api.GET("/objects/:id", s.handleGet)
		api.PATCH("/objects/:id/status", s.handleUpdateStatus)
		api.POST("/objects/:id/comments", s.handleComment)
	}
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("tracker listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("tracker request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || got != s.token {
			abort(c, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token")
			return
		}
		c.Next()
	}
}

func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, CodeRateLimited, "request quota exceeded")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, tracker.ErrorBody{
		Error: tracker.ErrorDetail{Code: code, Message: message},
	})
}

// writeError maps backend failures onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, tracker.ErrRateLimited):
		c.Header("Retry-After", "1")
		abort(c, http.StatusTooManyRequests, CodeRateLimited, err.Error())
	case errors.Is(err, tracker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		abort(c, http.StatusGatewayTimeout, CodeTimeout, err.Error())
	default:
		s.logger.Error("tracker backend error",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
