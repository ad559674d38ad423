// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/pool"
	"github.com/destiny/zbroker/registry"
)

var errNotConnected = errors.New("broker: backend is still connecting")

// slot is the broker's pooled handle on one backend. A slot is pooled as
// soon as its dial starts, so that requests arriving meanwhile share it.
// The dial itself runs off the loop and its outcome is delivered as a
// dialResult. Until then, requests are queued on the slot.
//
// Fields are owned by the loop, except conn which is fixed before the
// slot is watched.
type slot struct {
	desc     registry.Descriptor
	deadline time.Time // Of the dial.
	cancel   context.CancelFunc

	conn   pool.Backend // Nil while connecting.
	queued [][][]byte
	closed bool
}

// dialResult is the outcome of a slot's dial.
type dialResult struct {
	slot *slot
	conn pool.Backend
	err  error
}

func (s *slot) ServiceID() string { return s.desc.ServiceID }

func (s *slot) Ready() bool {
	return !s.closed && (s.conn == nil || s.conn.Ready())
}

func (s *slot) connected() bool { return s.conn != nil }

func (s *slot) Send(body [][]byte) error {
	if s.conn == nil {
		return errNotConnected
	}
	return s.conn.Send(body)
}

func (s *slot) Recv() ([][]byte, error) {
	if s.conn == nil {
		return nil, errNotConnected
	}
	return s.conn.Recv()
}

// Close abandons an outstanding dial, and closes the connection if there
// is one.
func (s *slot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.queued = nil
	s.cancel()

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// startDial pools a slot for desc and dials it in the background, bounded
// by the dial timeout. It never blocks the loop.
func (b *Broker) startDial(ctx context.Context, desc registry.Descriptor) (pool.Backend, error) {
	var dctx, cancel = context.WithTimeout(ctx, b.dialTimeout)
	var s = &slot{
		desc:     desc,
		deadline: time.Now().Add(b.dialTimeout),
		cancel:   cancel,
	}

	go func() {
		defer cancel()

		var conn, err = b.dialer.Dial(dctx, desc)
		select {
		case b.dials <- dialResult{slot: s, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
	return s, nil
}

// onDial completes a slot's dial. Queued requests are forwarded in the
// order they arrived.
func (b *Broker) onDial(res dialResult) {
	var s = res.slot

	if s.closed {
		// Evicted while connecting. Its requests were already answered.
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	if res.err != nil {
		b.fail(s, pool.ReasonFailed, res.err)
		return
	}
	s.conn = res.conn
	b.mux.watch(s)
	b.log.WithFields(log.Fields{
		"service": s.desc.ServiceID,
		"address": s.desc.Address,
		"kind":    s.desc.Kind,
	}).Debug("watching backend")

	var queued = s.queued
	s.queued = nil
	for _, body := range queued {
		if !b.forward(s, body) {
			return
		}
	}
}
