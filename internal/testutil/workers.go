// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/destiny/zbroker/worker"
)

// DiscardLogger returns a logger which drops everything.
func DiscardLogger() *logrus.Logger {
	var l = logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// StartWorker starts a worker serving handler on a fresh endpoint, and
// stops it when the test ends. It returns the endpoint.
func StartWorker(t testing.TB, handler worker.Handler) string {
	t.Helper()

	endpoint, err := GetTestEndpoint()
	require.NoError(t, err)

	w, err := worker.New(endpoint, handler, &worker.Options{Logger: DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	t.Cleanup(func() { _ = w.Stop() })
	return endpoint
}

// StartEchoWorker starts a worker echoing every request.
func StartEchoWorker(t testing.TB) string {
	return StartWorker(t, worker.Echo)
}

// StartSilentWorker starts a worker which accepts requests and never
// replies until it is stopped.
func StartSilentWorker(t testing.TB) string {
	return StartWorker(t, func(ctx context.Context, _ [][]byte) ([][]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}
