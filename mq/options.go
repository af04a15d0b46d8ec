// File: mq/options.go
// Package mq defines functional options for channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/logging"
)

// Config holds per-channel configuration. Channels created by Accept
// inherit the configuration of their listener.
type Config struct {
	QueueLimit       int                      // max pending messages per direction (0 = unbounded)
	ChunkSize        int                      // stream staging chunk size
	Backlog          int                      // listen backlog
	StrictKinds      bool                     // reject wire kinds that differ from the destination
	DiscardUnclaimed bool                     // drain messages that arrive with no destination
	Logger           *logrus.Entry            // tagged logger
	Metrics          *control.MetricsRegistry // optional traffic counters
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueLimit:  0,
		ChunkSize:   64 * 1024,
		Backlog:     128,
		StrictKinds: true,
	}
}

// Option customizes channel initialization.
type Option func(*Config)

// WithQueueLimit bounds the number of pending sends and pending
// destinations per channel. Beyond it, calls fail with api.ErrQueueFull.
func WithQueueLimit(n int) Option {
	return func(c *Config) {
		c.QueueLimit = n
	}
}

// WithChunkSize overrides the stream staging chunk size.
func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ChunkSize = n
		}
	}
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Backlog = n
		}
	}
}

// WithStrictKinds selects the kind mismatch policy. When strict is false
// the destination decides: a stream received into a buffer destination
// completes as a buffer message and vice versa.
func WithStrictKinds(strict bool) Option {
	return func(c *Config) {
		c.StrictKinds = strict
	}
}

// WithDiscardUnclaimed makes a channel consume and drop messages arriving
// while no destination is registered instead of leaving them unread.
func WithDiscardUnclaimed(discard bool) Option {
	return func(c *Config) {
		c.DiscardUnclaimed = discard
	}
}

// WithLogger sets the logger used for lifecycle and failure events.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics attaches a registry updated with traffic counters.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("mq")
	}
	return cfg
}
