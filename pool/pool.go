// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool caches backend connections by service identifier.
//
// A Pool holds at most one connection per service id. Connections are
// created on first use and kept for reuse until they are evicted, either
// explicitly, because they sat idle, or because the pool is at capacity
// and they are the least recently used. A Pool is not safe for concurrent
// use: it is owned by the broker loop.
package pool

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/destiny/zbroker/registry"
)

// DefaultSize is the default maximum number of pooled connections.
const DefaultSize = 1024

// ErrBackendUnavailable is returned when no ready connection can be had.
var ErrBackendUnavailable = errors.New("pool: backend unavailable")

// Backend is a pooled connection.
type Backend interface {
	ServiceID() string
	Ready() bool
	Send(body [][]byte) error
	Recv() ([][]byte, error)
	Close() error
}

// Dialer opens backend connections.
type Dialer interface {
	Dial(ctx context.Context, desc registry.Descriptor) (Backend, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, desc registry.Descriptor) (Backend, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, desc registry.Descriptor) (Backend, error) {
	return f(ctx, desc)
}

// Reason tells why a connection left the pool.
type Reason string

// Eviction reasons.
const (
	ReasonCapacity Reason = "capacity"
	ReasonIdle     Reason = "idle"
	ReasonFailed   Reason = "failed"
	ReasonTimeout  Reason = "timeout"
	ReasonClosed   Reason = "closed"
)

// EvictFunc is notified of every connection leaving the pool, before the
// connection is closed.
type EvictFunc func(b Backend, reason Reason)

// Option configures a Pool.
type Option func(p *Pool)

// WithEvictFunc sets the eviction callback.
func WithEvictFunc(fn EvictFunc) Option {
	return func(p *Pool) {
		p.onEvict = fn
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

type entry struct {
	conn     Backend
	lastUsed time.Time
}

// Pool maps service ids to live backend connections.
type Pool struct {
	dialer  Dialer
	cache   *lru.Cache
	onEvict EvictFunc
	now     func() time.Time

	// reason is attached to the next eviction callback. The LRU library
	// only reports capacity evictions implicitly, so it defaults there.
	reason Reason
}

// New returns a Pool of at most size connections, which must be > 0.
func New(dialer Dialer, size int, opts ...Option) (*Pool, error) {
	var p = &Pool{
		dialer: dialer,
		now:    time.Now,
		reason: ReasonCapacity,
	}
	for _, opt := range opts {
		opt(p)
	}

	var cache, err = lru.NewWithEvict(size, p.evicted)
	if err != nil {
		return nil, errors.Wrapf(err, "pool: invalid size %d", size)
	}
	p.cache = cache
	return p, nil
}

// Acquire returns the pooled connection of desc.ServiceID, dialing and
// caching a new one if there is none. A pooled connection which is not
// ready yields ErrBackendUnavailable without any attempt to replace it,
// as does a failed dial, in which case nothing is cached.
func (p *Pool) Acquire(ctx context.Context, desc registry.Descriptor) (Backend, error) {
	if v, ok := p.cache.Get(desc.ServiceID); ok {
		var e = v.(*entry)
		if !e.conn.Ready() {
			return nil, errors.WithMessagef(ErrBackendUnavailable, "%s is not ready", desc.ServiceID)
		}
		e.lastUsed = p.now()
		return e.conn, nil
	}

	var conn, err = p.dialer.Dial(ctx, desc)
	if err != nil {
		return nil, errors.WithMessagef(ErrBackendUnavailable, "%s: %v", desc.ServiceID, err)
	}
	if !conn.Ready() {
		_ = conn.Close()
		return nil, errors.WithMessagef(ErrBackendUnavailable, "%s: dialed connection is not ready", desc.ServiceID)
	}
	p.cache.Add(desc.ServiceID, &entry{conn: conn, lastUsed: p.now()})
	return conn, nil
}

// Get returns the pooled connection of serviceID without dialing and
// without refreshing its recency.
func (p *Pool) Get(serviceID string) (Backend, bool) {
	if v, ok := p.cache.Peek(serviceID); ok {
		return v.(*entry).conn, true
	}
	return nil, false
}

// Touch marks the connection of serviceID as used now.
func (p *Pool) Touch(serviceID string) {
	if v, ok := p.cache.Peek(serviceID); ok {
		v.(*entry).lastUsed = p.now()
	}
}

// Evict removes and closes the connection of serviceID, if any.
func (p *Pool) Evict(serviceID string, reason Reason) bool {
	p.reason = reason
	defer func() { p.reason = ReasonCapacity }()

	return p.cache.Remove(serviceID)
}

// EvictConn removes conn, but only if it is still the pooled connection
// of its service. It returns false for connections already replaced.
func (p *Pool) EvictConn(conn Backend, reason Reason) bool {
	if cur, ok := p.Get(conn.ServiceID()); !ok || cur != conn {
		return false
	}
	return p.Evict(conn.ServiceID(), reason)
}

// EvictIdle removes connections unused for longer than idle, skipping
// those for which busy returns true. It returns the evicted service ids.
func (p *Pool) EvictIdle(idle time.Duration, busy func(Backend) bool) []string {
	if idle <= 0 {
		return nil
	}
	var cutoff = p.now().Add(-idle)
	var evicted []string

	for _, key := range p.cache.Keys() {
		var v, ok = p.cache.Peek(key)
		if !ok {
			continue
		}
		var e = v.(*entry)
		if e.lastUsed.After(cutoff) || (busy != nil && busy(e.conn)) {
			continue
		}
		var id = key.(string)
		if p.Evict(id, ReasonIdle) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int { return p.cache.Len() }

// ServiceIDs returns the pooled service ids, oldest first.
func (p *Pool) ServiceIDs() []string {
	var keys = p.cache.Keys()
	var out = make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

// Close evicts every connection.
func (p *Pool) Close() {
	p.reason = ReasonClosed
	defer func() { p.reason = ReasonCapacity }()

	p.cache.Purge()
}

func (p *Pool) evicted(key, value interface{}) {
	var e = value.(*entry)
	if p.onEvict != nil {
		p.onEvict(e.conn, p.reason)
	}
	_ = e.conn.Close()
}
