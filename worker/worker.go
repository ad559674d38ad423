// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worker runs a backend service behind the broker.
//
// A Worker binds a ROUTER socket at its configured address and waits for
// the broker to connect. Each request is handed to a Handler and answered
// with exactly one reply, in arrival order.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/envelope"
)

// Handler processes one request body and returns the reply body.
type Handler func(ctx context.Context, body [][]byte) ([][]byte, error)

// Echo is a Handler replying with the request body unchanged.
func Echo(_ context.Context, body [][]byte) ([][]byte, error) {
	return body, nil
}

// Options configures a Worker.
type Options struct {
	Logger log.FieldLogger
}

// Worker serves one backend endpoint.
type Worker struct {
	endpoint string
	handler  Handler
	log      log.FieldLogger

	socket zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	running bool

	totalRequests uint64
	totalReplies  uint64
	totalErrors   uint64
}

// New returns a Worker which will listen on endpoint.
func New(endpoint string, handler Handler, opts *Options) (*Worker, error) {
	if handler == nil {
		return nil, errors.New("worker: request handler cannot be nil")
	}
	if opts == nil {
		opts = &Options{}
	}
	var logger = opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	var ctx, cancel = context.WithCancel(context.Background())
	return &Worker{
		endpoint: endpoint,
		handler:  handler,
		log:      logger.WithField("endpoint", endpoint),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start binds the worker's socket and begins serving requests.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker: already running")
	}

	var socket = zmq4.NewRouter(w.ctx)
	if err := socket.Listen(w.endpoint); err != nil {
		_ = socket.Close()
		return errors.Wrapf(err, "worker: failed to bind %s", w.endpoint)
	}
	w.socket = socket
	w.running = true

	go w.serve()

	w.log.Info("worker started")
	return nil
}

// Stop closes the worker's socket and waits for the serving loop to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return errors.New("worker: not running")
	}
	w.running = false
	w.cancel()
	var err = w.socket.Close()
	w.mu.Unlock()

	<-w.done
	w.log.Info("worker stopped")

	if err != nil {
		return errors.Wrap(err, "worker: failed to close socket")
	}
	return nil
}

// Addr returns the address the worker listens on. When the configured
// endpoint uses port 0, the bound port is reported once started.
func (w *Worker) Addr() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.socket != nil {
		if addr := w.socket.Addr(); addr != nil && addr.Network() == "tcp" {
			return fmt.Sprintf("tcp://%s", addr.String())
		}
	}
	return w.endpoint
}

func (w *Worker) serve() {
	defer close(w.done)

	for attempt := 0; ; {
		var msg, err = w.socket.Recv()
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.WithFields(log.Fields{"err": err, "attempt": attempt}).
				Warn("failed to receive request (will retry)")

			select {
			case <-w.ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
			attempt++
			continue
		}
		attempt = 0
		w.handle(msg.Frames)
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

// handle answers one request of layout [peer][empty][body...].
func (w *Worker) handle(frames [][]byte) {
	var identity, body, ok = envelope.Split(frames)
	if len(identity) == 0 {
		w.log.WithField("frames", len(frames)).Warn("dropping request without a return address")
		return
	}
	if !ok {
		w.log.WithField("frames", len(frames)).Warn("rejecting request without a delimiter")
		w.reply(envelope.EncodeError(identity, envelope.CodeMalformedEnvelope, "missing delimiter frame"))
		return
	}

	w.mu.Lock()
	w.totalRequests++
	w.mu.Unlock()

	var reply [][]byte
	var out, err = w.handler(w.ctx, body)
	if err != nil {
		w.log.WithField("err", err).Warn("request handler failed")
		w.mu.Lock()
		w.totalErrors++
		w.mu.Unlock()
		reply = envelope.EncodeError(identity, envelope.CodeServiceError, err.Error())
	} else {
		reply = envelope.EncodeReply(identity, out)
	}

	w.reply(reply)
}

func (w *Worker) reply(frames [][]byte) {
	if err := w.socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		w.log.WithField("err", err).Warn("failed to send reply")
		return
	}
	w.mu.Lock()
	w.totalReplies++
	w.mu.Unlock()
}

// GetStats returns worker statistics.
func (w *Worker) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"endpoint":       w.endpoint,
		"total_requests": w.totalRequests,
		"total_replies":  w.totalReplies,
		"total_errors":   w.totalErrors,
		"running":        w.running,
	}
}
