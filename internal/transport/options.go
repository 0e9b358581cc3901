package transport

import (
	"time"

	"github.com/flashtools/smpflash/internal/config"
)

// Config holds the session tuning knobs. All values are explicit per
// session; there are no process-wide defaults consulted after Open.
type Config struct {
	// BaudRate for the serial port.
	BaudRate int

	// LineLength bounds each encoded frame line on the wire.
	LineLength int

	// MTU bounds the total encoded request size per exchange.
	MTU int

	// Timeout is the per-exchange deadline for a complete response.
	Timeout time.Duration

	// Retries is how many times a timed-out exchange is resent before the
	// timeout surfaces to the caller.
	Retries int
}

func defaultConfig() Config {
	return Config{
		BaudRate:   config.DefaultBaudRate,
		LineLength: config.DefaultLineLength,
		MTU:        config.DefaultMTU,
		Timeout:    config.DefaultTimeout,
		Retries:    config.DefaultRetries,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithBaudRate sets the serial baud rate.
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithLineLength sets the maximum encoded line length on the wire.
func WithLineLength(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.LineLength = n
		}
	}
}

// WithMTU sets the maximum encoded request size per exchange.
func WithMTU(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MTU = n
		}
	}
}

// WithTimeout sets the per-exchange response deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRetries sets the exchange-level retry budget for timeouts.
func WithRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Retries = n
		}
	}
}
