// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import (
	"context"

	"github.com/destiny/zbroker/pool"
)

// backendEvent is a reply, or a receive failure, of a watched backend.
type backendEvent struct {
	conn   pool.Backend
	frames [][]byte
	err    error
}

// mux fans the readiness of every watched backend into one channel, so
// that the broker loop can wait on the frontend and all backends at once.
// Its registration set is owned by the loop.
type mux struct {
	ctx     context.Context
	events  chan backendEvent
	watched map[pool.Backend]struct{}
}

func newMux(ctx context.Context) *mux {
	return &mux{
		ctx:     ctx,
		events:  make(chan backendEvent, 64),
		watched: make(map[pool.Backend]struct{}),
	}
}

// watch registers conn. It returns false if conn was already registered.
func (m *mux) watch(conn pool.Backend) bool {
	if _, ok := m.watched[conn]; ok {
		return false
	}
	m.watched[conn] = struct{}{}
	go m.read(conn)
	return true
}

// unwatch deregisters conn. Events it still delivers are to be ignored.
func (m *mux) unwatch(conn pool.Backend) bool {
	if _, ok := m.watched[conn]; !ok {
		return false
	}
	delete(m.watched, conn)
	return true
}

func (m *mux) watching(conn pool.Backend) bool {
	_, ok := m.watched[conn]
	return ok
}

func (m *mux) len() int { return len(m.watched) }

// read delivers conn's replies until it fails or is closed.
func (m *mux) read(conn pool.Backend) {
	for {
		var frames, err = conn.Recv()

		select {
		case m.events <- backendEvent{conn: conn, frames: frames, err: err}:
		case <-m.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
