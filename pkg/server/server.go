// Package server exposes a session over HTTP: REST intents, image
// endpoints, Prometheus metrics and WebSocket streams for live frames and
// session events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-panorama/pkg/hub"
	"github.com/teslashibe/go-panorama/pkg/metrics"
	"github.com/teslashibe/go-panorama/pkg/session"
)

const shutdownTimeout = 5 * time.Second

// Deps are the collaborators a Server exposes. Live and Events are the
// hubs the session was wired to publish on.
type Deps struct {
	Session *session.Session
	Live    *hub.Hub
	Events  *hub.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	app     *fiber.App
	sess    *session.Session
	live    *hub.Hub
	events  *hub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the fiber app and its routes.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		sess:    d.Session,
		live:    d.Live,
		events:  d.Events,
		metrics: d.Metrics,
		logger:  d.Logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-panorama",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/collection/start", s.handleStart)
	api.Post("/collection/capture", s.handleCapture)
	api.Post("/collection/stop", s.handleStop)
	api.Get("/frames/:index", s.handleFrame)
	api.Get("/preview", s.handlePreview)
	api.Get("/live", s.handleLive)
	api.Post("/compose", s.handleCompose)
	api.Get("/composite", s.handleComposite)
	api.Post("/export", s.handleExport)
	api.Post("/reset", s.handleReset)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if s.live != nil {
		app.Get("/ws/live", websocket.New(func(c *websocket.Conn) { s.live.Serve(c) }))
	}
	if s.events != nil {
		app.Get("/ws/events", websocket.New(func(c *websocket.Conn) { s.events.Serve(c) }))
	}

	s.app = app
	return s
}

// App returns the fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve runs the hubs and serves HTTP on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, h := range []*hub.Hub{s.live, s.events} {
		if h == nil {
			continue
		}
		if s.metrics != nil {
			stream := h.Name()
			h.OnCount = func(delta int) { s.metrics.ClientConnected(stream, delta) }
		}
		go h.Run(hubCtx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	cancel()
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
