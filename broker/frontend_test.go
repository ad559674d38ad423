// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/zbroker/internal/testutil"
	"github.com/destiny/zbroker/registry"
)

// brokenSocket fails every receive.
type brokenSocket struct {
	zmq4.Socket
	recvs atomic.Int32
}

func (s *brokenSocket) Recv() (zmq4.Msg, error) {
	s.recvs.Add(1)
	return zmq4.Msg{}, errors.New("socket is broken")
}

func TestReadFrontendBacksOff(t *testing.T) {
	reg, err := registry.New(nil)
	require.NoError(t, err)
	b, err := New("tcp://127.0.0.1:0", reg, WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	var sock = new(brokenSocket)
	b.frontend = sock

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() {
		defer close(done)
		b.readFrontend(ctx)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readFrontend did not return after cancellation")
	}
	// 50ms, 50ms, 100ms, 100ms, then 1s between attempts.
	assert.InDelta(t, 5, sock.recvs.Load(), 2)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, backoff(0))
	assert.Equal(t, 100*time.Millisecond, backoff(3))
	assert.Equal(t, time.Second, backoff(4))
	assert.Equal(t, time.Second, backoff(100))
}
