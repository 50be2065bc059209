package statusapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
)

// Server is the best-effort status HTTP server.
type Server struct {
	Logger   *slog.Logger
	Bus      *action.Bus
	Snapshot *config.AtomicSnapshot
	Addr     string // e.g. "127.0.0.1:8081"

	httpServer *http.Server
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return s.Logger
}

func (s *Server) engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(slogRequestLogger(s.logger()))

	h := &handler{
		instanceID: uuid.NewString(),
		startTime:  time.Now(),
		bus:        s.Bus,
		snapshot:   s.Snapshot,
	}
	r.GET("/healthz", h.health)
	r.GET("/status", h.status)
	mountStaticPage(r)

	return r
}

// Run starts the HTTP listener and blocks until it stops. Per package doc,
// its caller must treat a non-nil error as log-and-continue, never as a
// reason to bring the dataplane down.
func (s *Server) Run() error {
	addr := s.Addr
	if addr == "" {
		addr = "127.0.0.1:8081"
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger().Info("statusapi: listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
