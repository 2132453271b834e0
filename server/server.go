// Package server exposes a small local HTTP surface over a SyncEngine so
// external UIs (the desktop widget) can trigger syncs and observe job
// status without linking the engine in-process.
package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/existflow/taskmirror/internal/engine"
	"github.com/existflow/taskmirror/internal/logger"
)

// Server is the sync status/control server.
type Server struct {
	engine *engine.SyncEngine
	echo   *echo.Echo
}

// New creates a server over eng.
func New(eng *engine.SyncEngine) *Server {
	s := &Server{engine: eng}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true

	// Request/response logging through the shared logger
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			res := c.Response()
			logger.Info("HTTP Request",
				logger.F("method", req.Method),
				logger.F("uri", req.RequestURI),
				logger.F("status", res.Status),
				logger.F("duration", time.Since(start).String()))

			return err
		}
	})

	e.GET("/api/v1/status", s.handleStatus)
	e.POST("/api/v1/sync/:type", s.handleSync)
	e.POST("/api/v1/cancel/:type", s.handleCancel)
	e.GET("/api/v1/entities/:type", s.handleEntities)
	e.GET("/api/v1/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	s.echo = e
}

// Start runs the server on addr. Blocks until shutdown.
func (s *Server) Start(addr string) error {
	logger.Info("Status server starting", logger.F("addr", addr))
	return s.echo.Start(addr)
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.echo.Close()
}
