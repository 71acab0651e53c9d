package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"mjpeg-stream-server/internal/config"
	"mjpeg-stream-server/internal/convert"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/metric"
	"mjpeg-stream-server/internal/sensor"
	"mjpeg-stream-server/internal/stream"
)

var sensorFlags struct {
	kind        string
	resolution  string
	pixelFormat string
	storage     string
	dir         string
	quality     int
	fastBytes   int64
	slowBytes   int64
}

func addSensorFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&sensorFlags.kind, "sensor", "", "sensor kind: pattern or files")
	f.StringVar(&sensorFlags.resolution, "resolution", "", "frame size, e.g. QVGA or VGA")
	f.StringVar(&sensorFlags.pixelFormat, "pixel-format", "", "jpeg, rgb565, yuv422, grayscale or bgr24")
	f.StringVar(&sensorFlags.storage, "storage", "", "tier for sensor buffers: fast or slow")
	f.StringVar(&sensorFlags.dir, "sensor-dir", "", "directory of JPEG stills for the files sensor")
	f.IntVar(&sensorFlags.quality, "sensor-quality", 0, "JPEG quality of frames the sensor encodes")
	f.Int64Var(&sensorFlags.fastBytes, "fast-bytes", 0, "fast memory tier budget in bytes")
	f.Int64Var(&sensorFlags.slowBytes, "slow-bytes", 0, "slow memory tier limit in bytes, 0 follows host memory")
}

// loadConfig layers flags that were set over the file and environment.
func loadConfig(c *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return cfg, err
	}

	f := c.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.Log.Level = logLevel })
	set("log-format", func() { cfg.Log.Format = logFormat })
	set("sensor", func() { cfg.Sensor.Kind = sensorFlags.kind })
	set("resolution", func() { cfg.Sensor.Resolution = sensorFlags.resolution })
	set("pixel-format", func() { cfg.Sensor.PixelFormat = sensorFlags.pixelFormat })
	set("storage", func() { cfg.Sensor.Storage = sensorFlags.storage })
	set("sensor-dir", func() { cfg.Sensor.Dir = sensorFlags.dir })
	set("sensor-quality", func() { cfg.Sensor.Quality = sensorFlags.quality })
	set("fast-bytes", func() { cfg.Memory.FastBytes = sensorFlags.fastBytes })
	set("slow-bytes", func() { cfg.Memory.SlowBytes = sensorFlags.slowBytes })
	applyServeFlags(c, &cfg)

	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	return logger
}

// pipeline is everything between the sensor and the HTTP layer.
type pipeline struct {
	alloc   *memtier.Allocator
	sensor  sensor.Sensor
	metrics *metric.Metrics
	session *stream.Session
}

// buildPipeline initialises memory, the sensor and the stream session.
// The sensor is closed at exit.
func buildPipeline(cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	alloc := memtier.New(
		memtier.WithFastBudget(cfg.Memory.FastBytes),
		memtier.WithSlowLimit(cfg.Memory.SlowBytes),
		memtier.WithLogger(logger))

	st := alloc.Stats()
	logger.Info("memory tiers",
		"fast_budget", st.FastBudget,
		"slow_limit", st.SlowLimit,
		"slow_available", st.SlowAvailable)

	src, err := sensor.Init(cfg.Sensor, alloc, logger)
	if err != nil {
		return nil, err
	}
	atexit.Register(func() {
		if err := src.Close(); err != nil {
			logger.Warn("close sensor", "error", err)
		}
	})

	metrics := metric.New()
	session := stream.NewSession(src, alloc, convert.NewJPEGEncoder(cfg.Stream.Quality),
		stream.WithFPS(cfg.Stream.FPS),
		stream.WithMaxClients(cfg.Stream.MaxClients),
		stream.WithLogger(logger),
		stream.WithMetrics(metrics))

	return &pipeline{alloc: alloc, sensor: src, metrics: metrics, session: session}, nil
}
