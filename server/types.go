package server

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mjpeg-stream-server/internal/config"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/metric"
	"mjpeg-stream-server/internal/sensor"
	"mjpeg-stream-server/internal/stream"
)

// StreamManager connects the stream session to the HTTP layer. It owns the
// session's lifetime and registers every streaming request as a client.
type StreamManager struct {
	session *stream.Session
	alloc   *memtier.Allocator
	sensor  sensor.Info
	metrics *metric.Metrics
	limiter *rate.Limiter
	logger  *slog.Logger
	cfg     config.ServerConfig

	started time.Time
	// stopped is closed once the session has returned
	stopped chan struct{}
	stalled atomic.Bool
}

// Options wires a StreamManager.
type Options struct {
	Session   *stream.Session
	Allocator *memtier.Allocator
	Sensor    sensor.Info
	Metrics   *metric.Metrics
	Logger    *slog.Logger
	Config    config.ServerConfig
}

// SensorStats describes the configured sensor
type SensorStats struct {
	Kind        string `json:"kind"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelFormat string `json:"pixel_format"`
	Storage     string `json:"storage"`
}

// HostMemory reports host memory as seen by the slow tier probe
type HostMemory struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

// StatsResponse is the body of /api/stats
type StatsResponse struct {
	Stream  stream.Stats  `json:"stream"`
	Memory  memtier.Stats `json:"memory"`
	Sensor  SensorStats   `json:"sensor"`
	Host    *HostMemory   `json:"host,omitempty"`
	Stalled bool          `json:"stalled"`
	Uptime  string        `json:"uptime"`
}
