// Package introspect exposes a read-only HTTP surface over the Manager's
// worker pool and the PostFactory's per-source-path stage progress. It
// carries no search or index responsibility over article content.
package introspect

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/caronc/go-newsreap/internal/logger"
	"github.com/caronc/go-newsreap/internal/nntpmgr"
	"github.com/caronc/go-newsreap/internal/postfactory"
)

// Server is the echo-backed introspection HTTP server.
type Server struct {
	echo *echo.Echo
	mgrs map[string]*nntpmgr.Manager
}

// New builds a Server reporting on the given named Managers (keyed by
// server ID), logging access through log.
func New(mgrs map[string]*nntpmgr.Manager, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	s := &Server{echo: e, mgrs: mgrs}

	e.GET("/workers", s.handleWorkers)
	e.GET("/stage", s.handleStage)

	return s
}

// Start serves on addr until the process exits or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

type workerStats struct {
	ServerID  string `json:"server_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
	QueueLen  int    `json:"queue_len"`
}

func (s *Server) handleWorkers(c *echo.Context) error {
	out := make([]workerStats, 0, len(s.mgrs))
	for id, mgr := range s.mgrs {
		snap := mgr.Snapshot()
		if snap.ServerID == "" {
			snap.ServerID = id
		}
		out = append(out, workerStats{
			ServerID:  snap.ServerID,
			Total:     snap.Total,
			Available: snap.Available,
			Capacity:  snap.Capacity,
			QueueLen:  snap.QueueLen,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type stageStatus struct {
	Path      string `json:"path"`
	Stage     string `json:"stage"`
	Running   bool   `json:"running"`
	Err       string `json:"err,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// handleStage reports the in-flight PostFactory stage for ?path=<source>.
// A query param is used rather than a path segment since source paths
// routinely contain "/".
func (s *Server) handleStage(c *echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path query param required")
	}

	st, ok := postfactory.Status(path)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no staged run for path")
	}

	return c.JSON(http.StatusOK, stageStatus{
		Path:      path,
		Stage:     st.Stage,
		Running:   st.Running,
		Err:       st.Err,
		UpdatedAt: st.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
