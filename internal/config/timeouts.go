package config

import "time"

// TimeoutConfig holds timeout settings for the web server and outgoing mail.
type TimeoutConfig struct {
	// Request bounds a single HTTP request, websocket upgrades excluded.
	// Default: 30s
	Request time.Duration

	// WebSocketPing is the interval between keepalive pings on live comment
	// connections. Default: 30s
	WebSocketPing time.Duration

	// SMTP bounds dialing and talking to the mail server. Default: 15s
	SMTP time.Duration

	// Shutdown is how long in-flight requests get to finish on exit.
	// Default: 10s
	Shutdown time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Request:       30 * time.Second,
		WebSocketPing: 30 * time.Second,
		SMTP:          15 * time.Second,
		Shutdown:      10 * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
