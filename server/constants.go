package server

import "time"

// Route paths
const (
	// StreamPath serves the multipart MJPEG stream
	StreamPath = "/mjpeg/1"

	// SnapshotPath serves a single freshly captured JPEG
	SnapshotPath = "/jpg"

	// WebSocketPath streams frames as binary WebSocket messages
	WebSocketPath = "/ws"
)

// Server configuration constants
const (
	// RetryAfterSeconds is sent with 503 responses to streaming requests that
	// could not be registered
	RetryAfterSeconds = 1

	// HealthCheckInterval is how often to check that frames keep flowing
	HealthCheckInterval = 5 * time.Second

	// MaxStallDuration is how long the producer may run without a non-empty
	// frame before the stream is reported stalled
	MaxStallDuration = 10 * time.Second

	// WebSocketPingInterval is how often to send ping messages to clients
	WebSocketPingInterval = 54 * time.Second

	// WebSocketReadDeadline is the deadline for reading WebSocket messages
	WebSocketReadDeadline = 60 * time.Second

	// WriteDeadline bounds a single frame write to any client
	WriteDeadline = 10 * time.Second

	// WebSocketReadLimit is the maximum message size for incoming WebSocket messages
	WebSocketReadLimit = 512
)
