// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Example backend service, echoing every request.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	mbp "github.com/destiny/zbroker/mainboilerplate"
	"github.com/destiny/zbroker/worker"
)

var Config = new(struct {
	Listen string        `long:"listen" env:"LISTEN" default:"tcp://127.0.0.1:6000" description:"Endpoint the worker binds"`
	Delay  time.Duration `long:"delay" env:"DELAY" default:"0s" description:"Artificial processing time per request"`
	Stats  time.Duration `long:"stats" env:"STATS" default:"10s" description:"Interval of statistics reports"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	mbp.InitLog(Config.Log)

	var handler = func(ctx context.Context, body [][]byte) ([][]byte, error) {
		log.WithField("frames", len(body)).Debug("processing request")

		select {
		case <-time.After(Config.Delay):
			return body, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w, err := worker.New(Config.Listen, handler, nil)
	mbp.Must(err, "failed to build worker")
	mbp.Must(w.Start(), "failed to start worker", "endpoint", Config.Listen)

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ticker = time.NewTicker(Config.Stats)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var stats, _ = json.Marshal(w.GetStats())
			log.WithField("stats", string(stats)).Info("worker stats")
		case <-ctx.Done():
			mbp.Must(w.Stop(), "failed to stop worker")
			os.Exit(0)
		}
	}
}
