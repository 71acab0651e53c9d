package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/mem"
	"golang.org/x/time/rate"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/stream"
)

// NewStreamManager creates a new instance of StreamManager
func NewStreamManager(opts Options) *StreamManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(opts.Config.SnapshotRate)
	if opts.Config.SnapshotRate == 0 {
		limit = rate.Inf
	}
	burst := opts.Config.SnapshotBurst
	if burst < 1 {
		burst = 1
	}
	if opts.Config.ShutdownTimeout <= 0 {
		opts.Config.ShutdownTimeout = 5 * time.Second
	}
	return &StreamManager{
		session: opts.Session,
		alloc:   opts.Allocator,
		sensor:  opts.Sensor,
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "server"),
		cfg:     opts.Config,
		started: time.Now(),
		stopped: make(chan struct{}),
	}
}

// generateClientID generates a unique client ID
func (sm *StreamManager) generateClientID(kind string) string {
	return kind + "-" + xid.New().String()
}

// Run drives the session and the stall monitor until ctx is done or the
// session fails. The session's error is returned.
func (sm *StreamManager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sm.monitorStreamHealth(ctx)
	}()

	err := sm.session.Run(ctx)
	cancel()
	wg.Wait()

	if errors.Is(err, errors.ErrAlreadyStarted) {
		return errors.WrapInvalid(err, "server", "Run", "start session")
	}
	close(sm.stopped)
	return err
}

// Stopped is closed once the session has returned.
func (sm *StreamManager) Stopped() <-chan struct{} { return sm.stopped }

// register adds a client to the session. It fails with ErrShuttingDown once
// the session has returned and with ErrCapacityReached when it is full.
func (sm *StreamManager) register(c stream.Client, remote string) error {
	select {
	case <-sm.stopped:
		return errors.ErrShuttingDown
	default:
	}
	if !sm.session.Register(c) {
		return errors.ErrCapacityReached
	}
	sm.logger.Info("client connected", "client", c.ID(), "remote", remote, "clients", sm.session.Clients())
	return nil
}

// wait parks a streaming handler until its client is retired by the
// dispatcher, or the session is gone.
func (sm *StreamManager) wait(done <-chan struct{}, c stream.Client) {
	select {
	case <-done:
	case <-sm.stopped:
		_ = c.Close()
	}
}

// Stats returns statistics for the stream
func (sm *StreamManager) Stats() StatsResponse {
	resp := StatsResponse{
		Stream: sm.session.Stats(),
		Sensor: SensorStats{
			Kind:        sm.sensor.Kind,
			Width:       sm.sensor.Width,
			Height:      sm.sensor.Height,
			PixelFormat: sm.sensor.Format.String(),
			Storage:     sm.sensor.Tier.String(),
		},
		Stalled: sm.stalled.Load(),
		Uptime:  time.Since(sm.started).Round(time.Second).String(),
	}
	if sm.alloc != nil {
		resp.Memory = sm.alloc.Stats()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Host = &HostMemory{Total: vm.Total, Available: vm.Available, UsedPercent: vm.UsedPercent}
	} else {
		sm.logger.Debug("host memory unavailable", "error", err)
	}
	return resp
}

// monitorStreamHealth flags the stream as stalled when the producer is
// running but no non-empty frame has been published for MaxStallDuration.
func (sm *StreamManager) monitorStreamHealth(ctx context.Context) {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	var (
		lastFrames uint64
		lastChange = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := sm.session.Stats()
			frames := st.FramesProduced - st.EmptyFrames
			if frames != lastFrames || sm.session.ProducerState() == stream.StateIdle {
				lastFrames, lastChange = frames, time.Now()
				if sm.stalled.CompareAndSwap(true, false) {
					sm.logger.Info("stream recovered", "frames", frames)
				}
				continue
			}
			if time.Since(lastChange) > MaxStallDuration && sm.stalled.CompareAndSwap(false, true) {
				sm.logger.Warn("stream stalled, sensor produced no frames",
					"since", lastChange.Format(time.RFC3339),
					"empty_frames", st.EmptyFrames)
			}
		}
	}
}
