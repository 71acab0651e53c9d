package stream

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"mjpeg-stream-server/internal/memtier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAllocator() *memtier.Allocator {
	return memtier.New(memtier.WithFastBudget(64<<10), memtier.WithSlowLimit(64<<20), memtier.WithLogger(testLogger()))
}

// fakeSource produces frames whose bytes are all equal to the low byte of
// the acquire count, with a length chosen by sizeFn.
type fakeSource struct {
	mu       sync.Mutex
	n        int
	format   PixelFormat
	sizeFn   func(n int) int
	fail     func(n int) error
	acquired atomic.Int64
	released atomic.Int64
	buf      []byte
}

func newFakeSource(format PixelFormat, size int) *fakeSource {
	return &fakeSource{format: format, sizeFn: func(int) int { return size }}
}

func (s *fakeSource) Acquire() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.acquired.Add(1)
	if s.fail != nil {
		if err := s.fail(s.n); err != nil {
			return nil, err
		}
	}
	size := s.sizeFn(s.n)
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	for i := range s.buf {
		s.buf[i] = byte(s.n)
	}
	return &Frame{Data: s.buf, Width: 4, Height: 2, Format: s.format}, nil
}

func (s *fakeSource) Release(*Frame) { s.released.Add(1) }

// fakeClient records every payload written to it.
type fakeClient struct {
	id        string
	gone      atomic.Bool
	closed    atomic.Bool
	writeFail atomic.Bool
	delay     time.Duration
	log       *serviceLog

	mu     sync.Mutex
	frames [][]byte
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

func (c *fakeClient) ID() string      { return c.id }
func (c *fakeClient) Connected() bool { return !c.gone.Load() }

func (c *fakeClient) WriteFrame(b []byte) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.writeFail.Load() {
		c.gone.Store(true)
		return fmt.Errorf("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, bytes.Clone(b))
	if c.log != nil {
		c.log.add(c.id)
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeClient) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// serviceLog records the order in which clients were written to.
type serviceLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *serviceLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *serviceLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

type encoderFunc func(*Frame) ([]byte, error)

func (f encoderFunc) Encode(fr *Frame) ([]byte, error) { return f(fr) }

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(f *Frame) ([]byte, error) {
	args := m.Called(f.Format)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}
