// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Example client, sending requests to a service through a zbroker.
package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/destiny/zbroker/client"
	"github.com/destiny/zbroker/envelope"
	mbp "github.com/destiny/zbroker/mainboilerplate"
)

var Config = new(struct {
	Broker   string        `long:"broker" env:"BROKER" default:"tcp://127.0.0.1:5555" description:"Endpoint of the broker"`
	Service  string        `long:"service" env:"SERVICE" default:"echo" description:"Service to call"`
	Address  string        `long:"address" env:"ADDRESS" description:"Backend address, for brokers accepting client routes"`
	Requests int           `long:"requests" env:"REQUESTS" default:"10" description:"Number of requests to send"`
	Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"Per-request timeout"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	mbp.InitLog(Config.Log)

	c, err := client.Dial(context.Background(), Config.Broker, &client.Options{Timeout: Config.Timeout})
	mbp.Must(err, "failed to dial broker", "broker", Config.Broker)
	defer c.Close()

	var route = envelope.Route{Service: Config.Service, Address: Config.Address}

	for i := 0; i != Config.Requests; i++ {
		var started = time.Now()
		var reply, err = c.Request(context.Background(), route, []byte(fmt.Sprintf("request #%d", i)))

		var rerr *envelope.RemoteError
		switch {
		case errors.As(err, &rerr):
			log.WithFields(log.Fields{"code": rerr.Code, "detail": rerr.Detail}).Warn("request refused")
		case err != nil:
			log.WithField("err", err).Error("request failed")
		default:
			log.WithFields(log.Fields{
				"reply":   string(bytes.Join(reply, []byte(" "))),
				"latency": time.Since(started),
			}).Info("got reply")
		}
	}
}
