// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client sends requests to services through a broker.
//
// A Client owns one DEALER socket connected to the broker's frontend and
// runs one request at a time. Replies carrying an error envelope are
// returned as *envelope.RemoteError.
package client

import (
	"context"
	stdlog "log"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/envelope"
)

// DefaultTimeout bounds a request when Options.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// ErrClosed is returned by requests on a closed Client.
var ErrClosed = errors.New("client: closed")

// Options configures a Client.
type Options struct {
	Timeout time.Duration // Per-request timeout, applied when ctx has no deadline.
	Logger  log.FieldLogger
}

// Client is a synchronous broker client.
type Client struct {
	endpoint string
	opts     Options
	log      log.FieldLogger

	mu     sync.Mutex
	socket zmq4.Socket
	cancel context.CancelFunc
	closed bool

	totalRequests uint64
	totalReplies  uint64
	totalErrors   uint64
}

// Dial connects a Client to the broker at endpoint.
func Dial(ctx context.Context, endpoint string, opts *Options) (*Client, error) {
	var c = &Client{endpoint: endpoint}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.Timeout <= 0 {
		c.opts.Timeout = DefaultTimeout
	}
	if c.opts.Logger == nil {
		c.opts.Logger = log.StandardLogger()
	}
	c.log = c.opts.Logger.WithField("broker", endpoint)

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect opens a fresh socket, replacing any previous one. c.mu is held
// or c is not yet shared.
func (c *Client) connect(ctx context.Context) error {
	if c.socket != nil {
		_ = c.socket.Close()
		c.cancel()
	}
	c.socket = nil

	var sctx, cancel = context.WithCancel(context.Background())
	var w = c.log.WithField("socket", "client").WriterLevel(log.DebugLevel)
	var socket = zmq4.NewDealer(sctx,
		zmq4.WithID(zmq4.SocketIdentity("client-"+uuid.NewString())),
		zmq4.WithTimeout(c.opts.Timeout),
		zmq4.WithLogger(stdlog.New(w, "", 0)),
	)
	go func() {
		<-sctx.Done()
		_ = w.Close()
	}()

	var dialed = make(chan error, 1)
	go func() { dialed <- socket.Dial(c.endpoint) }()

	select {
	case err := <-dialed:
		if err != nil {
			_ = socket.Close()
			cancel()
			return errors.Wrapf(err, "client: dialing %s", c.endpoint)
		}
	case <-ctx.Done():
		_ = socket.Close()
		cancel()
		return errors.WithMessagef(ctx.Err(), "client: dialing %s", c.endpoint)
	}

	c.socket, c.cancel = socket, cancel
	return nil
}

// Call invokes service with body and returns the reply body.
func (c *Client) Call(ctx context.Context, service string, body ...[]byte) ([][]byte, error) {
	return c.Request(ctx, envelope.Route{Service: service}, body...)
}

// Request sends body along route and returns the reply body. On timeout
// the socket is replaced, so that a late reply is never taken for the
// reply of a later request.
func (c *Client) Request(ctx context.Context, route envelope.Route, body ...[]byte) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	c.totalRequests++

	var reply, err = c.roundTrip(ctx, route, body)
	if err != nil {
		c.totalErrors++

		var rerr *envelope.RemoteError
		if !errors.As(err, &rerr) {
			c.log.WithFields(log.Fields{"service": route.Service, "err": err}).Warn("request failed")
		}
		return nil, err
	}
	c.totalReplies++
	return reply, nil
}

func (c *Client) roundTrip(ctx context.Context, route envelope.Route, body [][]byte) ([][]byte, error) {
	if c.socket == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	var socket = c.socket

	if err := socket.Send(zmq4.NewMsgFrom(envelope.EncodeRequest(route, body...)...)); err != nil {
		c.reset()
		return nil, errors.Wrapf(err, "client: sending to %s", route.Service)
	}

	var done = make(chan zmq4.Msg, 1)
	var errCh = make(chan error, 1)
	go func() {
		if msg, err := socket.Recv(); err != nil {
			errCh <- err
		} else {
			done <- msg
		}
	}()

	select {
	case msg := <-done:
		return envelope.ParseReply(msg.Frames)
	case err := <-errCh:
		c.reset()
		return nil, errors.Wrapf(err, "client: receiving from %s", route.Service)
	case <-ctx.Done():
		c.reset()
		return nil, errors.WithMessagef(ctx.Err(), "client: awaiting %s", route.Service)
	}
}

// reset drops the socket. The next request dials a new one.
func (c *Client) reset() {
	if c.socket != nil {
		_ = c.socket.Close()
		c.cancel()
		c.socket = nil
	}
}

// Close closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.socket == nil {
		return nil
	}
	var err = c.socket.Close()
	c.cancel()
	c.socket = nil
	return errors.Wrap(err, "client: close")
}

// GetStats returns client statistics.
func (c *Client) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"endpoint":       c.endpoint,
		"total_requests": c.totalRequests,
		"total_replies":  c.totalReplies,
		"total_errors":   c.totalErrors,
		"connected":      c.socket != nil,
	}
}
