package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/duncanmillerza/hadada-intake/internal/common"
)

// Server wraps the echo instance with lifecycle management.
type Server struct {
	echo   *echo.Echo
	cfg    common.ServerConfig
	logger *slog.Logger
}

func New(cfg common.ServerConfig, h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	h.RegisterRoutes(e)

	return &Server{echo: e, cfg: cfg, logger: logger}
}

// Handler exposes the routing stack, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then drains in-flight requests within
// the shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("server.listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server.stopped")
	return nil
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			attrs := []any{
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"remote_ip", c.RealIP(),
			}
			if err != nil {
				logger.Error("server.request", append(attrs, "error", err)...)
			} else {
				logger.Info("server.request", attrs...)
			}
			return err
		}
	}
}
