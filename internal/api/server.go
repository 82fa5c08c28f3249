package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stickerkit/sticker-agent/internal/convert"
	"github.com/stickerkit/sticker-agent/internal/jobs"
	"github.com/stickerkit/sticker-agent/internal/session"
)

// SessionController is the part of session.Controller the API exposes.
type SessionController interface {
	Snapshot() session.Snapshot
	SelectFile(path string) error
	UpdateSetting(field, raw string) error
	Submit() error
	DownloadURL() (string, error)
	Download(ctx context.Context, w io.Writer) (int64, error)
	Reset()
}

type PreviewServer interface {
	Serve(w http.ResponseWriter, r *http.Request, token string) error
}

// HealthChecker serves the conversion service's health. Peek returns the
// last probe without touching the network; Get probes when nothing is cached.
type HealthChecker interface {
	Peek() *convert.HealthStatus
	Get(ctx context.Context) (*convert.HealthStatus, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Controller SessionController
	Jobs       jobs.Repository
	Previews   PreviewServer
	Health     HealthChecker
	Logger     *slog.Logger
	StartTime  time.Time
	Version    string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
