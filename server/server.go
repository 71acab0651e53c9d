// Package server exposes a stream session over HTTP: the multipart MJPEG
// stream, single-frame snapshots, a WebSocket variant of the stream, stats,
// health and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mjpeg-stream-server/internal/errors"
)

// Server is the HTTP front of a StreamManager.
type Server struct {
	sm     *StreamManager
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router for opts.
func New(opts Options) *Server {
	sm := NewStreamManager(opts)
	return &Server{
		sm:     sm,
		router: newRouter(sm),
		logger: sm.logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Manager returns the StreamManager behind the routes.
func (s *Server) Manager() *StreamManager { return s.sm }

func newRouter(sm *StreamManager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(sm.logger), cors())

	r.GET("/", sm.handleIndex)
	r.GET(StreamPath, sm.handleMJPEG)
	r.GET(SnapshotPath, sm.handleJPG)
	if sm.cfg.WebSocket {
		r.GET(WebSocketPath, sm.handleWebSocket)
	}

	api := r.Group("/api")
	{
		api.GET("/stats", sm.handleStats)
	}

	// Health check
	r.GET("/health", sm.handleHealth)

	if sm.metrics != nil {
		r.GET("/metrics", gin.WrapH(sm.metrics.Handler()))
	}

	r.NoRoute(sm.handleNotFound)
	return r
}

// cors mirrors the wildcard origin the stream has always been served with.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote", c.ClientIP(),
			"duration", time.Since(start))
	}
}

// Run serves on addr until ctx is cancelled or the stream session fails.
// On the way out the session is stopped first, which releases every
// streaming handler, and then the HTTP server is shut down within the
// configured timeout. A session failure is returned.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.sm.cfg.Addr)
	if err != nil {
		return errors.WrapInvalid(err, "server", "Run", "listen on "+s.sm.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ConnContext:       saveConn,
	}

	sessionCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()
	sessionErr := make(chan error, 1)
	go func() { sessionErr <- s.sm.Run(sessionCtx) }()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("camera stream server listening",
			"addr", ln.Addr().String(),
			"stream", StreamPath,
			"snapshot", SnapshotPath)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	case err := <-sessionErr:
		runErr = err
		sessionErr = nil
		s.logger.Error("stream session ended", "error", err)
	case err, ok := <-serveErr:
		if ok {
			runErr = errors.Wrap(err, "server", "Serve", "serve http")
		}
	}

	// Stop the stream first so parked streaming handlers return.
	stopSession()
	if sessionErr != nil {
		if err := <-sessionErr; err != nil && runErr == nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.sm.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server forced to shutdown", "error", err)
		srv.Close()
	}

	s.logger.Info("server exited")
	return runErr
}
