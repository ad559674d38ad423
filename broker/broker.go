// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package broker routes client requests to backend services.
//
// A Broker binds one client-facing ROUTER socket. Each request names a
// service in its routing frame; the broker resolves the service through a
// registry, obtains a pooled backend connection for it, and forwards the
// request body verbatim. The backend's reply is relayed to the client that
// asked. Requests which cannot be routed are answered with an error
// envelope and never reach a backend.
//
// All routing state is owned by a single loop goroutine which waits, in one
// select, on the frontend, on every pooled backend, and on backend dials
// which run off the loop.
package broker

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/backend"
	"github.com/destiny/zbroker/envelope"
	"github.com/destiny/zbroker/pool"
	"github.com/destiny/zbroker/registry"
)

// pendingRequest is a forwarded request awaiting its reply.
type pendingRequest struct {
	identity [][]byte
	deadline time.Time
}

// Stats is a snapshot of the broker's state.
type Stats struct {
	Backends  []string       // Pooled service ids, least recently used first.
	Watched   int            // Backends registered with the multiplexer.
	Pending   map[string]int // Requests awaiting a reply, by service id.
	Forwarded uint64
	Replied   uint64
	Bounced   uint64
}

// Broker is the service broker.
type Broker struct {
	endpoint string
	registry *registry.Registry
	log      log.FieldLogger

	dialer         pool.Dialer
	dialTimeout    time.Duration
	sendTimeout    time.Duration
	requestTimeout time.Duration
	idleTimeout    time.Duration
	maxBackends    int
	sweepInterval  time.Duration

	ctx      context.Context // Life-line of the frontend socket.
	cancel   context.CancelFunc
	frontend zmq4.Socket
	logw     *io.PipeWriter

	// Owned by the loop goroutine.
	pool      *pool.Pool
	mux       *mux
	pending   map[pool.Backend][]pendingRequest
	forwarded uint64
	replied   uint64
	bounced   uint64

	inbox   chan [][]byte
	dials   chan dialResult
	queries chan chan Stats

	mu      sync.Mutex
	bound   bool
	serving bool
	closed  bool
}

// New returns a Broker which will listen on endpoint and route through reg.
func New(endpoint string, reg *registry.Registry, opts ...Option) (*Broker, error) {
	if reg == nil {
		return nil, errors.New("broker: nil registry")
	}
	var b = &Broker{
		endpoint:       endpoint,
		registry:       reg,
		log:            log.StandardLogger(),
		dialTimeout:    DefaultDialTimeout,
		sendTimeout:    DefaultSendTimeout,
		requestTimeout: DefaultRequestTimeout,
		maxBackends:    pool.DefaultSize,
		sweepInterval:  DefaultSweepInterval,
		pending:        make(map[pool.Backend][]pendingRequest),
		inbox:          make(chan [][]byte, 256),
		dials:          make(chan dialResult, 64),
		queries:        make(chan chan Stats),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("endpoint", endpoint)

	if b.dialer == nil {
		b.dialer = pool.DialerFunc(b.dialBackend)
	}
	b.dialer = countingDialer{b.dialer}

	var p, err = pool.New(pool.DialerFunc(b.startDial), b.maxBackends, pool.WithEvictFunc(b.evicted))
	if err != nil {
		return nil, errors.WithMessage(err, "broker")
	}
	b.pool = p
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Bind listens on the broker's endpoint. A failure to bind is the only
// error a broker cannot recover from.
func (b *Broker) Bind() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bound {
		return errors.New("broker: already bound")
	}
	b.logw = b.log.WithField("socket", "frontend").WriterLevel(log.DebugLevel)

	var socket = zmq4.NewRouter(b.ctx,
		zmq4.WithTimeout(b.sendTimeout),
		zmq4.WithLogger(stdlog.New(b.logw, "", 0)),
	)
	if err := socket.Listen(b.endpoint); err != nil {
		_ = socket.Close()
		_ = b.logw.Close()
		return errors.Wrapf(err, "broker: failed to bind %s", b.endpoint)
	}
	b.frontend = socket
	b.bound = true

	b.log.WithField("services", b.registry.Len()).Info("broker bound")
	return nil
}

// Addr returns the frontend's listening address, or nil if not bound.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frontend == nil {
		return nil
	}
	return b.frontend.Addr()
}

// Serve runs the broker loop until ctx is done. On return every backend
// connection has been closed, requests still pending have been answered
// with BACKEND_UNAVAILABLE, and the frontend is closed.
func (b *Broker) Serve(ctx context.Context) error {
	b.mu.Lock()
	if !b.bound {
		b.mu.Unlock()
		return errors.New("broker: not bound")
	}
	if b.serving || b.closed {
		b.mu.Unlock()
		return errors.New("broker: Serve may only be called once")
	}
	b.serving = true
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mux = newMux(ctx)
	go b.readFrontend(ctx)

	defer b.Close()
	defer b.shutdown()

	var ticker = time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	b.log.Info("broker serving")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("broker stopping")
			return nil

		case frames := <-b.inbox:
			b.onFrontend(ctx, frames)

		case ev := <-b.mux.events:
			b.onBackend(ev)

		case res := <-b.dials:
			b.onDial(res)

		case now := <-ticker.C:
			b.sweep(now)

		case q := <-b.queries:
			q <- b.snapshot()
		}
		pooledBackends.Set(float64(b.pool.Len()))
	}
}

// Close closes the frontend socket. Serve closes it on return; calling
// Close on a broker which never served releases its socket.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()

	var err error
	if b.frontend != nil {
		err = b.frontend.Close()
	}
	if b.logw != nil {
		_ = b.logw.Close()
	}
	return err
}

// Stats returns a snapshot of the broker's state, taken by the loop.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	var q = make(chan Stats, 1)

	select {
	case b.queries <- q:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-q:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (b *Broker) readFrontend(ctx context.Context) {
	for attempt := 0; ; {
		var msg, err = b.frontend.Recv()
		if err != nil {
			if ctx.Err() != nil || b.ctx.Err() != nil {
				return
			}
			b.log.WithFields(log.Fields{"err": err, "attempt": attempt}).
				Warn("failed to receive from frontend (will retry)")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
			attempt++
			continue
		}
		attempt = 0

		select {
		case b.inbox <- msg.Frames:
		case <-ctx.Done():
			return
		}
	}
}

func backoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return 50 * time.Millisecond
	case 2, 3:
		return 100 * time.Millisecond
	default:
		return time.Second
	}
}

// onFrontend routes one client request, or bounces it.
func (b *Broker) onFrontend(ctx context.Context, frames [][]byte) {
	var env, err = envelope.Decode(frames)
	if err != nil {
		b.bounce(env.Identity, envelope.CodeMalformedEnvelope, err.Error())
		return
	}
	var logger = b.log.WithFields(log.Fields{
		"service":  env.Route.Service,
		"identity": fmt.Sprintf("%x", env.Identity),
	})

	desc, err := b.registry.Resolve(env.Route.Service, env.Route.Address)
	if err != nil {
		logger.WithField("err", err).Debug("service not found")
		b.bounce(env.Identity, envelope.CodeServiceNotFound, err.Error())
		return
	}

	conn, err := b.pool.Acquire(ctx, desc)
	if err != nil {
		logger.WithFields(log.Fields{"address": desc.Address, "err": err}).Warn("backend unavailable")
		b.bounce(env.Identity, envelope.CodeBackendUnavailable, err.Error())
		return
	}
	var s = conn.(*slot)

	var req = pendingRequest{identity: env.Identity}
	if b.requestTimeout > 0 {
		req.deadline = time.Now().Add(b.requestTimeout)
	}
	b.pending[s] = append(b.pending[s], req)

	if !s.connected() {
		s.queued = append(s.queued, envelope.Passthrough(env.Body))
		return
	}
	b.forward(s, envelope.Passthrough(env.Body))
}

// forward sends body to the connected slot s. On failure s is failed, and
// forward returns false.
func (b *Broker) forward(s *slot, body [][]byte) bool {
	if err := s.Send(body); err != nil {
		b.fail(s, pool.ReasonFailed, err)
		return false
	}
	b.forwarded++
	forwardedRequestsTotal.Inc()
	return true
}

// onBackend relays a backend's reply to the oldest request pending on it.
func (b *Broker) onBackend(ev backendEvent) {
	if !b.mux.watching(ev.conn) {
		return // Connection was evicted after the event was sent.
	}
	if ev.err != nil {
		b.fail(ev.conn, pool.ReasonFailed, ev.err)
		return
	}

	var queue = b.pending[ev.conn]
	if len(queue) == 0 {
		b.log.WithField("service", ev.conn.ServiceID()).Warn("dropping unsolicited backend reply")
		unsolicitedRepliesTotal.Inc()
		return
	}
	var req = queue[0]
	queue[0] = pendingRequest{}
	b.pending[ev.conn] = queue[1:]

	if cur, ok := b.pool.Get(ev.conn.ServiceID()); ok && cur == ev.conn {
		b.pool.Touch(ev.conn.ServiceID())
	}
	b.send(envelope.EncodeReply(req.identity, envelope.Passthrough(ev.frames)))
	b.replied++
	relayedRepliesTotal.Inc()
}

// sweep fails backends whose oldest pending request has expired or whose
// dial has overrun, and evicts backends which have been idle too long.
func (b *Broker) sweep(now time.Time) {
	var stalled []pool.Backend
	var reasons []error
	for conn, queue := range b.pending {
		if s, ok := conn.(*slot); ok && !s.connected() && now.After(s.deadline) {
			stalled = append(stalled, conn)
			reasons = append(reasons, errors.Errorf("not connected within %s", b.dialTimeout))
		} else if len(queue) != 0 && !queue[0].deadline.IsZero() && now.After(queue[0].deadline) {
			stalled = append(stalled, conn)
			reasons = append(reasons, errors.Errorf("no reply within %s", b.requestTimeout))
		}
	}
	for i, conn := range stalled {
		b.fail(conn, pool.ReasonTimeout, reasons[i])
	}

	for _, id := range b.pool.EvictIdle(b.idleTimeout, b.busy) {
		b.log.WithField("service", id).Debug("evicted idle backend")
	}
}

func (b *Broker) busy(conn pool.Backend) bool {
	return len(b.pending[conn]) != 0
}

// fail takes conn out of service. Every request pending on it is bounced.
func (b *Broker) fail(conn pool.Backend, reason pool.Reason, err error) {
	b.log.WithFields(log.Fields{
		"service": conn.ServiceID(),
		"reason":  reason,
		"pending": len(b.pending[conn]),
		"err":     err,
	}).Warn("dropping backend connection")

	if !b.pool.EvictConn(conn, reason) {
		// Already out of the pool; release whatever remains of it.
		b.evicted(conn, reason)
		_ = conn.Close()
	}
}

// evicted is called as conn leaves the pool, and by fail for connections
// no longer pooled.
func (b *Broker) evicted(conn pool.Backend, reason pool.Reason) {
	if b.mux != nil {
		b.mux.unwatch(conn)
	}
	var queue = b.pending[conn]
	delete(b.pending, conn)

	for _, req := range queue {
		b.bounce(req.identity, envelope.CodeBackendUnavailable,
			fmt.Sprintf("%s: backend connection dropped (%s)", conn.ServiceID(), reason))
	}
	backendEvictionsTotal.WithLabelValues(string(reason)).Inc()
}

// bounce answers identity with an error envelope, touching no backend.
func (b *Broker) bounce(identity [][]byte, code envelope.Code, detail string) {
	errorEnvelopesTotal.WithLabelValues(string(code)).Inc()

	if len(identity) == 0 {
		b.log.WithFields(log.Fields{"code": code, "detail": detail}).
			Warn("dropping request without a return address")
		return
	}
	b.bounced++
	b.send(envelope.EncodeError(identity, code, detail))
}

func (b *Broker) send(frames [][]byte) {
	if err := b.frontend.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		b.log.WithFields(log.Fields{
			"identity": fmt.Sprintf("%x", frames[0]),
			"err":      err,
		}).Warn("failed to send to client")
	}
}

func (b *Broker) shutdown() {
	b.pool.Close()
	pooledBackends.Set(0)
}

func (b *Broker) snapshot() Stats {
	var s = Stats{
		Backends:  b.pool.ServiceIDs(),
		Watched:   b.mux.len(),
		Pending:   make(map[string]int),
		Forwarded: b.forwarded,
		Replied:   b.replied,
		Bounced:   b.bounced,
	}
	for conn, queue := range b.pending {
		if len(queue) != 0 {
			s.Pending[conn.ServiceID()] += len(queue)
		}
	}
	return s
}

func (b *Broker) dialBackend(ctx context.Context, desc registry.Descriptor) (pool.Backend, error) {
	var conn, err = backend.Dial(ctx, desc, backend.Options{
		DialTimeout: b.dialTimeout,
		SendTimeout: b.sendTimeout,
		Logger:      b.log,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// countingDialer records the outcome of every dial.
type countingDialer struct {
	pool.Dialer
}

func (d countingDialer) Dial(ctx context.Context, desc registry.Descriptor) (pool.Backend, error) {
	var conn, err = d.Dialer.Dial(ctx, desc)
	if err != nil {
		backendDialsTotal.WithLabelValues(Fail).Inc()
	} else {
		backendDialsTotal.WithLabelValues(Ok).Inc()
	}
	return conn, err
}
