// Package constants defines service-wide timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout bounds a single persistence call made from a signaling handler
	DefaultTimeout = 5 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// DBConnectRetries is how many times startup retries the call-log database
	DBConnectRetries = 5
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a frame to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong (or any frame)
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize caps a single inbound frame. SDP offers are the largest payloads.
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue length
	WebSocketSendBuffer = 256
)

// Presence constants
const (
	// PresenceTTL is how long a mirrored presence key survives without a heartbeat
	PresenceTTL = 5 * time.Minute

	// PresenceOnlineSetKey is the Redis set holding online user ids
	PresenceOnlineSetKey = "presence:online"
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Rate limiting constants
const (
	// RateLimitSweepInterval is how often expired limiter buckets are dropped
	RateLimitSweepInterval = time.Minute
)

// Circuit breaker constants for call-log persistence
const (
	BreakerMaxRequests      = 1
	BreakerInterval         = time.Minute
	BreakerOpenTimeout      = 30 * time.Second
	BreakerFailureThreshold = 5
)

// Pagination constants
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message text length
	MaxMessageLength = 10000
)
