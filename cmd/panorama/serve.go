package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-panorama/internal/log"
	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/hub"
	"github.com/teslashibe/go-panorama/pkg/metrics"
	"github.com/teslashibe/go-panorama/pkg/server"
	"github.com/teslashibe/go-panorama/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket service",
	Long: `Serves the collection/composition API under /api, Prometheus metrics under
/metrics, live JPEG frames on /ws/live and session events on /ws/events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveBackend string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Capture backend override: auto, device, files, mock")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveBackend != "" {
		cfg.Capture.Backend = capture.Backend(serveBackend)
	}
	logger := log.L()

	src, err := capture.NewSource(cfg.Capture, log.Component("capture"))
	if err != nil {
		return err
	}

	m := metrics.New()
	live := hub.New("live", logger)
	events := hub.New("events", logger)

	sess := session.New(cfg.Session(), src,
		session.WithLogger(log.Component("session")),
		session.WithMetrics(m),
		session.WithEvents(func(e session.Event) {
			if err := events.BroadcastJSON(e); err != nil {
				logger.Warn("event encode failed", "type", e.Type, "error", err)
			}
		}),
		session.WithLiveSink(live.BroadcastBinary),
	)
	defer sess.Close()

	srv := server.New(server.Deps{
		Session: sess,
		Live:    live,
		Events:  events,
		Metrics: m,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting panorama service",
		"addr", cfg.Addr(),
		"source", src.Name(),
		"default_mode", cfg.DefaultMode,
	)
	return srv.ListenAndServe(ctx, cfg.Addr())
}
