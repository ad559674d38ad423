// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend wraps the broker's connection to one service worker.
//
// A Conn owns a single DEALER socket dialed to the worker's address. It
// knows how to frame a request for the worker and how to unframe the
// worker's reply, and nothing about routing.
package backend

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/registry"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultSendTimeout = 5 * time.Second
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("backend: connection closed")

// Options configures Dial.
type Options struct {
	DialTimeout time.Duration // Maximum time to establish the transport.
	SendTimeout time.Duration // Maximum time a Send may wait to be queued.
	Logger      logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Conn is a live connection to one backend.
type Conn struct {
	desc   registry.Descriptor
	socket zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// Dial opens a connection to the backend described by desc. Dial makes a
// single attempt and never retries. The whole attempt, including the ZMTP
// greeting, is bounded by ctx and by opts.DialTimeout. The returned Conn
// outlives ctx and stays open until closed.
func Dial(ctx context.Context, desc registry.Descriptor, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	if err := registry.ValidateAddress(desc.Address); err != nil {
		return nil, err
	}
	var dctx, dcancel = context.WithTimeout(ctx, opts.DialTimeout)
	defer dcancel()

	var sctx, cancel = context.WithCancel(context.Background())
	var id = zmq4.SocketIdentity("zbroker-" + uuid.NewString())
	var w = opts.Logger.WithField("service", desc.ServiceID).WriterLevel(logrus.DebugLevel)
	var socket = zmq4.NewDealer(sctx,
		zmq4.WithID(id),
		zmq4.WithDialerTimeout(opts.DialTimeout),
		zmq4.WithDialerMaxRetries(0),
		zmq4.WithTimeout(opts.SendTimeout),
		zmq4.WithLogger(log.New(w, "", 0)),
	)
	go func() {
		<-sctx.Done()
		_ = w.Close()
	}()

	var dialed = make(chan error, 1)
	go func() { dialed <- socket.Dial(desc.Address) }()

	select {
	case err := <-dialed:
		if err != nil {
			_ = socket.Close()
			cancel()
			return nil, errors.Wrapf(err, "backend: dialing %s at %s", desc.ServiceID, desc.Address)
		}
	case <-dctx.Done():
		// A peer which accepts but never greets leaves socket.Dial blocked.
		// Closing the socket abandons it, and the attempt is never reused.
		_ = socket.Close()
		cancel()
		return nil, errors.WithMessagef(dctx.Err(), "backend: dialing %s at %s", desc.ServiceID, desc.Address)
	}

	var c = &Conn{
		desc:   desc,
		socket: socket,
		ctx:    sctx,
		cancel: cancel,
	}
	c.ready.Store(true)
	return c, nil
}

// ServiceID returns the service this connection serves.
func (c *Conn) ServiceID() string { return c.desc.ServiceID }

// Descriptor returns the descriptor the connection was dialed from.
func (c *Conn) Descriptor() registry.Descriptor { return c.desc }

// Ready reports whether the transport is established and has not failed.
func (c *Conn) Ready() bool { return c.ready.Load() && !c.closed.Load() }

// MarkBroken flags the connection as no longer usable.
func (c *Conn) MarkBroken() { c.ready.Store(false) }

// Send forwards body to the backend, preceded by an empty delimiter
// frame so that REP and ROUTER workers both see a well-formed envelope.
func (c *Conn) Send(body [][]byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	var frames = make([][]byte, 0, len(body)+1)
	frames = append(frames, []byte{})
	frames = append(frames, body...)

	if err := c.socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		c.MarkBroken()
		return errors.Wrapf(err, "backend: sending to %s", c.desc.ServiceID)
	}
	return nil
}

// Recv blocks until the backend replies, and returns the reply's frames
// with the leading delimiter removed.
func (c *Conn) Recv() ([][]byte, error) {
	var msg, err = c.socket.Recv()
	if err != nil {
		c.MarkBroken()
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, errors.Wrapf(err, "backend: receiving from %s", c.desc.ServiceID)
	}
	var frames = msg.Frames
	if len(frames) != 0 && len(frames[0]) == 0 {
		frames = frames[1:]
	}
	return frames, nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.ready.Store(false)
	var err = c.socket.Close()
	c.cancel()
	return err
}
