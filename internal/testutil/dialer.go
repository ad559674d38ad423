// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/destiny/zbroker/backend"
	"github.com/destiny/zbroker/pool"
	"github.com/destiny/zbroker/registry"
)

// CountingDialer dials real backends and counts the attempts.
type CountingDialer struct {
	n int64
}

// Dial opens a backend connection to desc.
func (d *CountingDialer) Dial(ctx context.Context, desc registry.Descriptor) (pool.Backend, error) {
	atomic.AddInt64(&d.n, 1)

	var conn, err = backend.Dial(ctx, desc, backend.Options{
		DialTimeout: time.Second,
		SendTimeout: time.Second,
		Logger:      DiscardLogger(),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Count returns the number of dials attempted.
func (d *CountingDialer) Count() int64 { return atomic.LoadInt64(&d.n) }
