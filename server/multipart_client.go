package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/mjpeg"
)

// errNotReady is returned by a client whose transport is not set up yet.
var errNotReady = errors.New("client transport not ready")

type connKey struct{}

// saveConn is used as http.Server.ConnContext so handlers can reach the
// underlying connection for write deadlines.
func saveConn(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// mjpegClient is a stream.Client writing multipart parts to an HTTP
// response. It is registered before the response is started and skips its
// turns until start has written the headers. All writes happen under mu, and
// the handler must not touch the response after start until done is closed.
type mjpegClient struct {
	id   string
	w    http.ResponseWriter
	rc   *http.ResponseController
	conn net.Conn
	ctx  context.Context

	mu      sync.Mutex
	started bool

	gone atomic.Bool
	once sync.Once
	done chan struct{}
}

func newMJPEGClient(id string, w http.ResponseWriter, r *http.Request) *mjpegClient {
	conn, _ := r.Context().Value(connKey{}).(net.Conn)
	return &mjpegClient{
		id:   id,
		w:    w,
		rc:   http.NewResponseController(w),
		conn: conn,
		ctx:  r.Context(),
		done: make(chan struct{}),
	}
}

func (c *mjpegClient) ID() string { return c.id }

// start sends the stream headers and the opening boundary.
func (c *mjpegClient) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.w.Header()
	h.Set("Content-Type", mjpeg.ContentType)
	h.Set("Access-Control-Allow-Origin", "*")
	c.w.WriteHeader(http.StatusOK)

	c.setWriteDeadline(time.Now().Add(WriteDeadline))
	err := mjpeg.WriteStart(c.w)
	if err == nil {
		err = c.rc.Flush()
	}
	if err != nil {
		c.gone.Store(true)
		return err
	}
	c.started = true
	return nil
}

// Connected turns false for good once the request is cancelled or a write
// has failed.
func (c *mjpegClient) Connected() bool {
	if c.gone.Load() {
		return false
	}
	if c.ctx.Err() != nil {
		c.gone.Store(true)
		return false
	}
	return true
}

// WriteFrame writes one part and flushes it to the peer.
func (c *mjpegClient) WriteFrame(jpeg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return errNotReady
	}

	c.setWriteDeadline(time.Now().Add(WriteDeadline))
	err := mjpeg.WritePart(c.w, jpeg)
	if err == nil {
		err = c.rc.Flush()
	}
	if err != nil {
		c.gone.Store(true)
	}
	return err
}

// Close releases the handler blocked on done.
func (c *mjpegClient) Close() error {
	c.once.Do(func() {
		c.gone.Store(true)
		close(c.done)
	})
	return nil
}

// finish clears the write deadline so the connection can be reused.
func (c *mjpegClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setWriteDeadline(time.Time{})
}

func (c *mjpegClient) setWriteDeadline(t time.Time) {
	if err := c.rc.SetWriteDeadline(t); err == nil {
		return
	}
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(t)
	}
}
