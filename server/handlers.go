package server

import (
	_ "embed"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/stream"
)

//go:embed viewer.html
var viewerHTML []byte

// getUpgrader returns a WebSocket upgrader configured to allow all origins
func getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // the stream itself is served with a wildcard CORS origin
		},
	}
}

// reject answers a streaming request that could not be registered.
func (sm *StreamManager) reject(c *gin.Context, err error) {
	c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":    err.Error(),
		"capacity": sm.session.Capacity(),
	})
}

// handleMJPEG registers the request as a stream client, then starts the
// multipart response. From then on the response belongs to the dispatcher;
// the handler only waits for the client to be retired.
func (sm *StreamManager) handleMJPEG(c *gin.Context) {
	client := newMJPEGClient(sm.generateClientID("mjpeg"), c.Writer, c.Request)
	if err := sm.register(client, c.ClientIP()); err != nil {
		sm.reject(c, err)
		return
	}

	if err := client.start(); err != nil {
		sm.logger.Debug("stream start failed", "client", client.ID(), "error", err)
	}
	sm.wait(client.done, client)
	client.finish()
}

// handleWebSocket registers a client, upgrades the connection and hands it
// over. The client then receives one binary message per frame
func (sm *StreamManager) handleWebSocket(c *gin.Context) {
	client := newWSClient(sm.generateClientID("ws"), sm.logger)
	if err := sm.register(client, c.ClientIP()); err != nil {
		sm.reject(c, err)
		return
	}

	upgrader := getUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sm.logger.Warn("websocket upgrade failed", "client", client.ID(), "error", err)
		client.Close()
		return
	}
	if !client.attach(conn) {
		return
	}

	go client.pingPump()
	client.readPump()
	sm.wait(client.done, client)
}

// handleJPG captures a fresh frame and returns it as a single JPEG
func (sm *StreamManager) handleJPG(c *gin.Context) {
	if !sm.limiter.Allow() {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "snapshot rate exceeded"})
		return
	}

	jpg, meta, err := sm.session.Capture()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		sm.logger.Warn("snapshot failed", "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", "inline; filename=capture.jpg")
	c.Header("X-Frame-Width", strconv.Itoa(meta.Width))
	c.Header("X-Frame-Height", strconv.Itoa(meta.Height))
	c.Header("X-Frame-Format", meta.Format.String())
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

// handleStats returns stream, memory and sensor statistics
func (sm *StreamManager) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, sm.Stats())
}

// handleHealth reports whether frames are flowing
func (sm *StreamManager) handleHealth(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	select {
	case <-sm.stopped:
		status, code = "stopped", http.StatusServiceUnavailable
	default:
		if sm.stalled.Load() {
			status, code = "stalled", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().Unix(),
		"producer":   sm.session.ProducerState().String(),
		"dispatcher": sm.session.DispatcherState().String(),
		"clients":    sm.session.Clients(),
	})
}

// handleIndex serves the viewer page
func (sm *StreamManager) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", viewerHTML)
}

// handleNotFound answers unknown paths with a plain-text description of
// the request, so a browser pointed at the device still shows it is alive.
func (sm *StreamManager) handleNotFound(c *gin.Context) {
	args := c.Request.URL.Query()
	var b strings.Builder
	b.WriteString("Server is running!\n\n")
	fmt.Fprintf(&b, "URI: %s\n", c.Request.URL.Path)
	fmt.Fprintf(&b, "Method: %s\n", c.Request.Method)
	fmt.Fprintf(&b, "Arguments: %d\n", len(args))
	for name, values := range args {
		for _, v := range values {
			fmt.Fprintf(&b, " %s: %s\n", name, v)
		}
	}
	c.String(http.StatusOK, b.String())
}
