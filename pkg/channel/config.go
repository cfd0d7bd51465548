package channel

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tecu23/eng-client/internal/auth"
)

// Config holds the endpoint and tuning of the connection
type Config struct {
	Endpoint    string
	Credentials auth.Credentials

	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int

	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int

	// Clock drives reconnect waits; the real clock when nil
	Clock clockwork.Clock
}

// DefaultConfig returns the default connection configuration
func DefaultConfig(endpoint string, creds auth.Credentials) Config {
	return Config{
		Endpoint:             endpoint,
		Credentials:          creds,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		PingInterval:         30 * time.Second,
		MaxMessageSize:       64 * 1024,
		SendBuffer:           256,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Endpoint, c.Credentials)

	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout / 2
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return c
}
