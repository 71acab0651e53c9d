// Package stream is the frame production and fan-out core.
//
// A Session owns everything the two periodic tasks share: the ping-pong
// buffer pair, the gate guarding the published frame and the client registry.
// The Producer fills the inactive buffer from a Source and publishes it under
// the gate; the Dispatcher serves the published buffer, under the same gate,
// to one registered client per turn in round-robin order. Both tasks go idle
// when nobody is watching and are woken by the next registration.
package stream

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/metric"
)

// DefaultFPS is the producer's target rate.
const DefaultFPS = 14

// Session is one camera stream.
type Session struct {
	source   Source
	sourceMu sync.Mutex // serializes Acquire/Release between producer and Capture
	alloc    *memtier.Allocator
	encoder  Encoder
	period   time.Duration
	registry *Registry

	gate    sync.Mutex
	buffers bufferPair

	frameReady *signal
	producer   *Producer
	dispatcher *Dispatcher

	logger  *slog.Logger
	metrics *metric.Metrics
	running atomic.Bool

	produced      atomic.Uint64
	empty         atomic.Uint64
	served        atomic.Uint64
	convFailures  atomic.Uint64
	registrations atomic.Uint64
	rejections    atomic.Uint64
	dropped       atomic.Uint64
}

// Option configures a Session.
type Option func(*Session)

// WithFPS sets the producer rate. Non-positive values are ignored.
func WithFPS(fps int) Option {
	return func(s *Session) {
		if fps > 0 {
			s.period = time.Second / time.Duration(fps)
		}
	}
}

// WithMaxClients sets the registry capacity.
func WithMaxClients(n int) Option {
	return func(s *Session) { s.registry = NewRegistry(n) }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession wires a session around a sensor, an allocator for the buffer
// pair and an encoder for non-JPEG sensors.
func NewSession(src Source, alloc *memtier.Allocator, enc Encoder, opts ...Option) *Session {
	s := &Session{
		source:     src,
		alloc:      alloc,
		encoder:    enc,
		period:     time.Second / DefaultFPS,
		registry:   NewRegistry(DefaultMaxClients),
		frameReady: newSignal(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream")
	s.producer = &Producer{s: s, wake: newSignal(), logger: s.logger.With("task", "producer")}
	s.dispatcher = &Dispatcher{s: s, wake: newSignal(), logger: s.logger.With("task", "dispatcher")}
	return s
}

// Period returns the producer's frame period.
func (s *Session) Period() time.Duration { return s.period }

// Register adds a client and wakes both tasks. It returns false without
// side effects when the registry is full.
func (s *Session) Register(c Client) bool {
	if !s.registry.Register(c) {
		s.rejections.Add(1)
		s.metrics.Rejected()
		s.logger.Warn("client rejected", "client", c.ID(), "capacity", s.registry.Cap(), "error", errors.ErrCapacityReached)
		return false
	}
	s.registrations.Add(1)
	s.metrics.Registered(s.registry.Len())
	s.logger.Info("client registered", "client", c.ID(), "clients", s.registry.Len())

	s.producer.wake.notify()
	s.dispatcher.wake.notify()
	return true
}

// Capacity returns the maximum number of registered clients.
func (s *Session) Capacity() int { return s.registry.Cap() }

// Clients returns the number of registered clients.
func (s *Session) Clients() int { return s.registry.Len() }

// ProducerState returns the producer's run state.
func (s *Session) ProducerState() State { return s.producer.State() }

// DispatcherState returns the dispatcher's run state.
func (s *Session) DispatcherState() State { return s.dispatcher.State() }

// Run drives the producer and dispatcher until ctx is cancelled or the
// producer hits a fatal error, which is returned. Every client still
// registered is closed before Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.producer.setState(StateRunning)
	s.dispatcher.setState(StateRunning)
	s.logger.Info("session started", "period", s.period, "capacity", s.registry.Cap())

	var (
		wg       sync.WaitGroup
		firstErr error
		errOnce  sync.Once
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		cancel()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.producer.run(ctx); err != nil {
			fail(err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.dispatcher.run(ctx); err != nil {
			fail(err)
		}
	}()
	wg.Wait()

	s.producer.setState(StateIdle)
	s.dispatcher.setState(StateIdle)
	s.closeClients()

	if firstErr != nil {
		s.logger.Error("session stopped", "error", firstErr)
	} else {
		s.logger.Info("session stopped")
	}
	return firstErr
}

func (s *Session) closeClients() {
	for _, c := range s.registry.drain() {
		if err := c.Close(); err != nil {
			s.logger.Debug("close client", "client", c.ID(), "error", err)
		}
		s.dropped.Add(1)
		s.metrics.Dropped(s.registry.Len())
	}
}

// Current returns a copy of the published frame. ok is false when the
// published frame is empty.
func (s *Session) Current() (Frame, bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	f := s.buffers.view()
	if len(f.Data) == 0 {
		return f, false
	}
	f.Data = bytes.Clone(f.Data)
	return f, true
}

// Capture acquires a fresh frame straight from the sensor and returns it as
// JPEG along with its metadata.
func (s *Session) Capture() ([]byte, Frame, error) {
	s.sourceMu.Lock()
	defer s.sourceMu.Unlock()

	f, err := s.source.Acquire()
	if err != nil {
		return nil, Frame{}, errors.WrapTransient(err, "stream", "Capture", "acquire frame")
	}
	defer s.source.Release(f)

	meta := *f
	meta.Data = nil
	if f.Len() == 0 {
		return nil, meta, errors.WrapTransient(ErrUnavailable, "stream", "Capture", "acquire frame")
	}
	if f.Format == FormatJPEG {
		return bytes.Clone(f.Data), meta, nil
	}
	out, err := s.encode(f)
	if err != nil {
		return nil, meta, err
	}
	return out, meta, nil
}

func (s *Session) encode(f *Frame) ([]byte, error) {
	if s.encoder == nil {
		return nil, errors.WrapTransient(errors.ErrInvalidData, "stream", "encode", "convert "+f.Format.String())
	}
	out, err := s.encoder.Encode(f)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream", "encode", "convert "+f.Format.String())
	}
	return out, nil
}

// Stats is a point-in-time view of the session.
type Stats struct {
	Producer           string   `json:"producer"`
	Dispatcher         string   `json:"dispatcher"`
	Clients            int      `json:"clients"`
	Capacity           int      `json:"capacity"`
	ClientIDs          []string `json:"client_ids"`
	FramesProduced     uint64   `json:"frames_produced"`
	EmptyFrames        uint64   `json:"empty_frames"`
	FramesServed       uint64   `json:"frames_served"`
	ConversionFailures uint64   `json:"conversion_failures"`
	Registrations      uint64   `json:"registrations"`
	Rejections         uint64   `json:"rejections"`
	ClientsDropped     uint64   `json:"clients_dropped"`
	BufferCapacity     [2]int   `json:"buffer_capacity"`
	FrameLength        int      `json:"frame_length"`
	Width              int      `json:"width"`
	Height             int      `json:"height"`
	Format             string   `json:"format"`
}

// Stats returns counters, task states and the published frame's metadata.
func (s *Session) Stats() Stats {
	s.gate.Lock()
	cur := s.buffers.view()
	s.gate.Unlock()
	caps := s.buffers.capacities()

	return Stats{
		Producer:           s.producer.State().String(),
		Dispatcher:         s.dispatcher.State().String(),
		Clients:            s.registry.Len(),
		Capacity:           s.registry.Cap(),
		ClientIDs:          s.registry.IDs(),
		FramesProduced:     s.produced.Load(),
		EmptyFrames:        s.empty.Load(),
		FramesServed:       s.served.Load(),
		ConversionFailures: s.convFailures.Load(),
		Registrations:      s.registrations.Load(),
		Rejections:         s.rejections.Load(),
		ClientsDropped:     s.dropped.Load(),
		BufferCapacity:     caps,
		FrameLength:        len(cur.Data),
		Width:              cur.Width,
		Height:             cur.Height,
		Format:             cur.Format.String(),
	}
}
