// Package admin provides a read-only HTTP surface for observing one
// running duckserver.Server: table sizes, channel names, and neighbor
// liveness. It never touches the server's tables directly — every
// handler goes through Server.RequestSnapshot, the one sanctioned way a
// goroutine outside the core's own loop may read its state.
package admin

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/duckchat/duckchatd/internal/duckserver"
)

// Server is the admin HTTP server. It wraps an *echo.Echo instance.
type Server struct {
	core       *duckserver.Server
	instanceID uuid.UUID
	echo       *echo.Echo
	startedAt  time.Time
}

// New constructs an admin Server bound to core. instanceID identifies this
// process in the /healthz response.
func New(core *duckserver.Server, instanceID uuid.UUID, logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Printf("[admin] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{core: core, instanceID: instanceID, echo: e, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/channels", s.handleChannels)
	s.echo.GET("/neighbors", s.handleNeighbors)
}

// Run starts the HTTP server on addr and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutCtx)
}

// healthzResponse is the payload for GET /healthz.
type healthzResponse struct {
	InstanceID string `json:"instance_id"`
	SelfAddr   string `json:"self_addr"`
	Uptime     string `json:"uptime"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	snap, err := s.core.RequestSnapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, healthzResponse{
		InstanceID: s.instanceID.String(),
		SelfAddr:   snap.SelfAddr,
		Uptime:     humanize.Time(s.startedAt),
	})
}

// statsResponse is the payload for GET /stats.
type statsResponse struct {
	Users         int `json:"users"`
	Channels      int `json:"channels"`
	Neighbors     int `json:"neighbors"`
	RoutedChannel int `json:"routed_channels"`
}

func (s *Server) handleStats(c echo.Context) error {
	snap, err := s.core.RequestSnapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, statsResponse{
		Users:         snap.Users,
		Channels:      len(snap.Channels),
		Neighbors:     len(snap.Neighbors),
		RoutedChannel: len(snap.Routing),
	})
}

func (s *Server) handleChannels(c echo.Context) error {
	snap, err := s.core.RequestSnapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, snap.Channels)
}

// neighborView is one neighbor's address and human-readable idle age.
type neighborView struct {
	Addr string `json:"addr"`
	Idle string `json:"idle"`
}

func (s *Server) handleNeighbors(c echo.Context) error {
	snap, err := s.core.RequestSnapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	views := make([]neighborView, 0, len(snap.Neighbors))
	for _, n := range snap.Neighbors {
		age := time.Duration(n.IdleMinutes) * time.Minute
		views = append(views, neighborView{
			Addr: n.Addr,
			Idle: humanize.RelTime(time.Now().Add(-age), time.Now(), "ago", "from now"),
		})
	}
	return c.JSON(http.StatusOK, views)
}
