// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/zbroker/broker"
	"github.com/destiny/zbroker/client"
	"github.com/destiny/zbroker/envelope"
	"github.com/destiny/zbroker/internal/testutil"
	"github.com/destiny/zbroker/registry"
)

// serve runs a broker routing "echo" and "slow", until the test ends.
func serve(t *testing.T, opts ...registry.Option) (string, string) {
	t.Helper()

	var echo = testutil.StartEchoWorker(t)
	var slow = testutil.StartWorker(t, func(ctx context.Context, body [][]byte) ([][]byte, error) {
		select {
		case <-time.After(300 * time.Millisecond):
			return body, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	reg, err := registry.New([]registry.Entry{
		{ServiceID: "echo", Address: echo, Active: true},
		{ServiceID: "slow", Address: slow, Active: true},
	}, opts...)
	require.NoError(t, err)

	endpoint, err := testutil.GetTestEndpoint()
	require.NoError(t, err)

	b, err := broker.New(endpoint, reg, broker.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	require.NoError(t, b.Bind())

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return endpoint, echo
}

func dial(t *testing.T, endpoint string) *client.Client {
	t.Helper()

	c, err := client.Dial(context.Background(), endpoint, &client.Options{
		Timeout: 5 * time.Second,
		Logger:  testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCall(t *testing.T) {
	var endpoint, _ = serve(t)
	var c = dial(t, endpoint)

	for i := 0; i != 3; i++ {
		var msg = []byte(fmt.Sprint("ping ", i))
		reply, err := c.Call(context.Background(), "echo", msg, nil)
		require.NoError(t, err)
		require.Len(t, reply, 2)
		assert.Equal(t, msg, reply[0])
		assert.Empty(t, reply[1])
	}

	var stats = c.GetStats()
	assert.Equal(t, uint64(3), stats["total_requests"])
	assert.Equal(t, uint64(3), stats["total_replies"])
}

func TestRemoteErrors(t *testing.T) {
	var endpoint, _ = serve(t)
	var c = dial(t, endpoint)

	_, err := c.Call(context.Background(), "unknown", []byte("x"))

	var rerr *envelope.RemoteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, envelope.CodeServiceNotFound, rerr.Code)
	assert.NotEmpty(t, rerr.Detail)
}

func TestRequestWithClientRoute(t *testing.T) {
	var endpoint, echo = serve(t, registry.WithClientRoutes(true))
	var c = dial(t, endpoint)

	reply, err := c.Request(context.Background(),
		envelope.Route{Service: "elsewhere", Address: echo}, []byte("routed"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("routed")}, reply)
}

func TestTimeoutDiscardsLateReply(t *testing.T) {
	var endpoint, _ = serve(t)
	var c = dial(t, endpoint)

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "slow", []byte("late"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	// The late reply to "late" must not be mistaken for this one.
	reply, err := c.Call(context.Background(), "slow", []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("fresh")}, reply)
}

func TestClose(t *testing.T) {
	var endpoint, _ = serve(t)
	var c = dial(t, endpoint)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Call(context.Background(), "echo")
	assert.True(t, errors.Is(err, client.ErrClosed))
}
