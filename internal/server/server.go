// Package server exposes council sessions over HTTP and streams their
// events to websocket clients.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/session"
)

// ServiceName tags traces produced by the HTTP layer.
const ServiceName = "council"

// Server routes HTTP requests to sessions.
type Server struct {
	sessions *session.Manager
	logger   *logging.Logger
	router   *gin.Engine

	// ctx outlives requests so background asks survive the 202 response.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server over sessions.
func New(sessions *session.Manager, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		sessions: sessions,
		logger:   logger.WithPhase("http"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(ServiceName), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions", s.listSessions)

		sess := v1.Group("/sessions/:id")
		{
			sess.GET("", s.getSession)
			sess.DELETE("", s.deleteSession)
			sess.POST("/questions", s.askQuestion)
			sess.POST("/clear", s.clearSession)
			sess.POST("/debate/continue", s.continueDebate)
			sess.POST("/debate/pause", s.pauseDebate)
			sess.POST("/debate/end", s.endDebate)
			sess.GET("/private/:persona", s.getConversation)
			sess.POST("/private/:persona", s.sendPrivate)
			sess.POST("/private/:persona/nudge", s.nudge)
			sess.DELETE("/alliance/:persona", s.cancelGossip)
			sess.GET("/events", s.streamEvents)
		}
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	})
	return g.Wait()
}

// Close cancels background asks, waits for them and closes every session.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
	s.sessions.CloseAll()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, errors.ErrSessionBusy),
		errors.Is(err, errors.ErrDebateInProgress),
		errors.Is(err, errors.ErrNoDebate),
		errors.Is(err, errors.ErrChannelBusy):
		return http.StatusConflict
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrEmptyMessage),
		errors.Is(err, errors.ErrUnknownPersona):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.IsCanceled(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err, "retryable", errors.IsRetryable(err))
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError && !errors.IsUserFacing(err) {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

// session resolves the :id parameter, writing a 404 when it is unknown.
func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}
