package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mjpeg-stream-server/internal/config"
	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/server"
)

var serveFlags struct {
	addr        string
	fps         int
	maxClients  int
	quality     int
	noWebSocket bool
	shutdown    time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MJPEG stream (default)",
	RunE:  runServe,
}

func init() {
	addSensorFlags(serveCmd)
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "listen address, default :80")
	f.IntVar(&serveFlags.fps, "fps", 0, "base frame rate")
	f.IntVar(&serveFlags.maxClients, "max-clients", 0, "maximum concurrent stream clients")
	f.IntVar(&serveFlags.quality, "quality", 0, "JPEG quality for converted frames")
	f.BoolVar(&serveFlags.noWebSocket, "no-websocket", false, "disable the WebSocket stream")
	f.DurationVar(&serveFlags.shutdown, "shutdown-timeout", 0, "graceful shutdown timeout")
}

func applyServeFlags(c *cobra.Command, cfg *config.Config) {
	f := c.Flags()
	if f.Lookup("addr") == nil {
		return
	}
	if f.Changed("addr") {
		cfg.Server.Addr = serveFlags.addr
	}
	if f.Changed("fps") {
		cfg.Stream.FPS = serveFlags.fps
	}
	if f.Changed("max-clients") {
		cfg.Stream.MaxClients = serveFlags.maxClients
	}
	if f.Changed("quality") {
		cfg.Stream.Quality = serveFlags.quality
	}
	if f.Changed("no-websocket") {
		cfg.Server.WebSocket = !serveFlags.noWebSocket
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout = serveFlags.shutdown
	}
}

func runServe(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Error("initialisation failed", "error", err)
		return err
	}

	srv := server.New(server.Options{
		Session:   p.session,
		Allocator: p.alloc,
		Sensor:    p.sensor.Info(),
		Metrics:   p.metrics,
		Logger:    logger,
		Config:    cfg.Server,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting camstream",
		"addr", cfg.Server.Addr,
		"stream", server.StreamPath,
		"fps", cfg.Stream.FPS,
		"max_clients", cfg.Stream.MaxClients)

	if err := srv.Run(ctx); err != nil {
		if errors.IsFatal(err) {
			logger.Error("stream stopped on unrecoverable error", "error", err)
		}
		return err
	}
	return nil
}
