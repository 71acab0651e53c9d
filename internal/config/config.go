// Package config loads the server configuration. Values are layered:
// built-in defaults, then an optional YAML file, then a .env file and
// CAMSTREAM_* environment variables. Command-line flags are applied last
// by the caller.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/sensor"
	"mjpeg-stream-server/internal/stream"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMSTREAM_"

type Config struct {
	Server ServerConfig  `yaml:"server"`
	Stream StreamConfig  `yaml:"stream"`
	Memory MemoryConfig  `yaml:"memory"`
	Sensor sensor.Config `yaml:"sensor"`
	Log    LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SnapshotRate limits /jpg captures per second across all callers.
	SnapshotRate  float64 `yaml:"snapshot_rate"`
	SnapshotBurst int     `yaml:"snapshot_burst"`
	WebSocket     bool    `yaml:"websocket"`
}

type StreamConfig struct {
	FPS        int `yaml:"fps"`
	MaxClients int `yaml:"max_clients"`
	// Quality of raw-to-JPEG conversion.
	Quality int `yaml:"quality"`
}

type MemoryConfig struct {
	FastBytes int64 `yaml:"fast_bytes"`
	// SlowBytes of 0 sizes the slow tier from host memory.
	SlowBytes int64 `yaml:"slow_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":80",
			ShutdownTimeout: 5 * time.Second,
			SnapshotRate:    5,
			SnapshotBurst:   2,
			WebSocket:       true,
		},
		Stream: StreamConfig{
			FPS:        stream.DefaultFPS,
			MaxClients: stream.DefaultMaxClients,
			Quality:    30,
		},
		Memory: MemoryConfig{
			FastBytes: 256 << 10,
		},
		Sensor: sensor.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), envFile (skipped when empty or missing) and the process
// environment, then validates it.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "parse "+path)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, errors.WrapInvalid(err, "config", "Load", "load "+envFile)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst any) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || firstErr != nil {
			return
		}
		var err error
		switch d := dst.(type) {
		case *int:
			*d, err = strconv.Atoi(strings.TrimSpace(v))
		case *int64:
			*d, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		case *float64:
			*d, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		case *bool:
			*d, err = strconv.ParseBool(strings.TrimSpace(v))
		case *time.Duration:
			*d, err = time.ParseDuration(strings.TrimSpace(v))
		}
		if err != nil {
			firstErr = errors.WrapInvalid(fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err), "config", "applyEnv", "parse environment")
		}
	}

	str("ADDR", &cfg.Server.Addr)
	num("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	num("SNAPSHOT_RATE", &cfg.Server.SnapshotRate)
	num("SNAPSHOT_BURST", &cfg.Server.SnapshotBurst)
	num("WEBSOCKET", &cfg.Server.WebSocket)

	num("FPS", &cfg.Stream.FPS)
	num("MAX_CLIENTS", &cfg.Stream.MaxClients)
	num("QUALITY", &cfg.Stream.Quality)

	num("FAST_BYTES", &cfg.Memory.FastBytes)
	num("SLOW_BYTES", &cfg.Memory.SlowBytes)

	str("SENSOR", &cfg.Sensor.Kind)
	str("RESOLUTION", &cfg.Sensor.Resolution)
	str("PIXEL_FORMAT", &cfg.Sensor.PixelFormat)
	str("STORAGE", &cfg.Sensor.Storage)
	str("SENSOR_DIR", &cfg.Sensor.Dir)
	num("SENSOR_QUALITY", &cfg.Sensor.Quality)
	num("UNAVAILABLE_EVERY", &cfg.Sensor.UnavailableEvery)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return firstErr
}

// Validate checks ranges and names. The sensor kind is checked by
// sensor.Init, and an unknown pixel format falls back to grayscale there.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}
	if c.Server.SnapshotRate < 0 || c.Server.SnapshotBurst < 0 {
		problems = append(problems, "server.snapshot_rate and snapshot_burst must not be negative")
	}
	if c.Stream.FPS < 1 || c.Stream.FPS > 120 {
		problems = append(problems, fmt.Sprintf("stream.fps %d out of range 1..120", c.Stream.FPS))
	}
	if c.Stream.MaxClients < 1 {
		problems = append(problems, "stream.max_clients must be at least 1")
	}
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		problems = append(problems, fmt.Sprintf("stream.quality %d out of range 1..100", c.Stream.Quality))
	}
	if c.Memory.FastBytes < 0 || c.Memory.SlowBytes < 0 {
		problems = append(problems, "memory sizes must not be negative")
	}
	if c.Sensor.Storage != "" {
		if _, err := memtier.ParseTier(c.Sensor.Storage); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if _, err := sensor.ParseResolution(c.Sensor.Resolution); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q unknown", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q unknown", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")), "config", "Validate", "validate config")
	}
	return nil
}
