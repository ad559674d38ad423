// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/pool"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultDialTimeout    = 2 * time.Second
	DefaultSendTimeout    = 5 * time.Second
	DefaultSweepInterval  = 100 * time.Millisecond
)

// Option configures some aspect of a Broker.
type Option func(b *Broker)

// WithLogger sets the logger of the broker.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Broker) {
		b.log = l
	}
}

// WithDialer replaces the dialer used to open backend connections.
func WithDialer(d pool.Dialer) Option {
	return func(b *Broker) {
		b.dialer = d
	}
}

// WithDialTimeout sets the maximum amount of time a backend dial will wait
// for a connect to complete. Dials block the loop.
func WithDialTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		b.dialTimeout = timeout
	}
}

// WithSendTimeout sets the maximum amount of time a send on any socket
// may wait to be queued.
func WithSendTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		b.sendTimeout = timeout
	}
}

// WithRequestTimeout sets how long a forwarded request may wait for its
// reply. On expiry the backend is treated as stalled: it is evicted and
// every request pending on it is answered with BACKEND_UNAVAILABLE.
// Zero disables the timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		b.requestTimeout = timeout
	}
}

// WithIdleTimeout evicts backend connections with no pending requests once
// unused for the given duration. Zero keeps them until capacity forces
// them out.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		b.idleTimeout = timeout
	}
}

// WithMaxBackends caps the number of pooled backend connections. The
// least recently used connection is evicted to make room.
func WithMaxBackends(n int) Option {
	return func(b *Broker) {
		b.maxBackends = n
	}
}

// WithSweepInterval sets how often timeouts are checked.
func WithSweepInterval(interval time.Duration) Option {
	return func(b *Broker) {
		b.sweepInterval = interval
	}
}
