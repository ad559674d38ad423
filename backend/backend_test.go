// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/zbroker/backend"
	"github.com/destiny/zbroker/internal/testutil"
	"github.com/destiny/zbroker/registry"
)

func options() backend.Options {
	return backend.Options{
		DialTimeout: time.Second,
		SendTimeout: time.Second,
		Logger:      testutil.DiscardLogger(),
	}
}

func TestSendRecvEcho(t *testing.T) {
	var endpoint = testutil.StartEchoWorker(t)
	var desc = registry.Descriptor{ServiceID: "echo", Address: endpoint}

	conn, err := backend.Dial(context.Background(), desc, options())
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.Ready())
	assert.Equal(t, "echo", conn.ServiceID())
	assert.Equal(t, desc, conn.Descriptor())

	var body = [][]byte{[]byte("hello"), {0x00, 0xff}}
	require.NoError(t, conn.Send(body))

	reply, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, body, reply, "delimiter is stripped, body is untouched")
}

func TestSendRecvEmptyBody(t *testing.T) {
	var endpoint = testutil.StartEchoWorker(t)

	conn, err := backend.Dial(context.Background(), registry.Descriptor{ServiceID: "echo", Address: endpoint}, options())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(nil))
	reply, err := conn.Recv()
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestDialFailure(t *testing.T) {
	endpoint, err := testutil.GetClosedEndpoint()
	require.NoError(t, err)

	_, err = backend.Dial(context.Background(), registry.Descriptor{ServiceID: "down", Address: endpoint}, options())
	assert.Error(t, err)

	_, err = backend.Dial(context.Background(), registry.Descriptor{ServiceID: "bad", Address: "nowhere"}, options())
	assert.Error(t, err)
}

func TestDialSilentPeer(t *testing.T) {
	var endpoint = testutil.StartMuteListener(t)
	var opts = options()
	opts.DialTimeout = 200 * time.Millisecond

	var start = time.Now()
	_, err := backend.Dial(context.Background(), registry.Descriptor{ServiceID: "mute", Address: endpoint}, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnOutlivesDialContext(t *testing.T) {
	var endpoint = testutil.StartEchoWorker(t)
	var ctx, cancel = context.WithCancel(context.Background())

	conn, err := backend.Dial(ctx, registry.Descriptor{ServiceID: "echo", Address: endpoint}, options())
	require.NoError(t, err)
	defer conn.Close()
	cancel()

	require.NoError(t, conn.Send([][]byte{[]byte("still here")}))
	reply, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("still here")}, reply)
}

func TestClose(t *testing.T) {
	var endpoint = testutil.StartEchoWorker(t)

	conn, err := backend.Dial(context.Background(), registry.Descriptor{ServiceID: "echo", Address: endpoint}, options())
	require.NoError(t, err)

	var recvErr = make(chan error, 1)
	go func() {
		_, err := conn.Recv()
		recvErr <- err
	}()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "idempotent")
	assert.False(t, conn.Ready())

	select {
	case err := <-recvErr:
		assert.True(t, errors.Is(err, backend.ErrClosed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
	assert.True(t, errors.Is(conn.Send([][]byte{[]byte("x")}), backend.ErrClosed))
}

func TestMarkBroken(t *testing.T) {
	var endpoint = testutil.StartEchoWorker(t)

	conn, err := backend.Dial(context.Background(), registry.Descriptor{ServiceID: "echo", Address: endpoint}, options())
	require.NoError(t, err)
	defer conn.Close()

	conn.MarkBroken()
	assert.False(t, conn.Ready())
}
