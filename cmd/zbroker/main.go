// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/destiny/zbroker/broker"
	mbp "github.com/destiny/zbroker/mainboilerplate"
	"github.com/destiny/zbroker/registry"
)

const iniFilename = "zbroker.ini"

// Config is the top-level configuration object of a zbroker.
var Config = new(struct {
	Broker struct {
		Listen            string        `long:"listen" env:"LISTEN" default:"tcp://0.0.0.0:5555" description:"Endpoint of the client-facing ROUTER socket"`
		RequestTimeout    time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30s" description:"Time a forwarded request may wait for its reply. Zero disables"`
		DialTimeout       time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" default:"2s" description:"Time allowed to connect to a backend"`
		SendTimeout       time.Duration `long:"send-timeout" env:"SEND_TIMEOUT" default:"5s" description:"Time a send may wait to be queued"`
		IdleTimeout       time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"0s" description:"Evict backend connections idle for this long. Zero disables"`
		MaxBackends       int           `long:"max-backends" env:"MAX_BACKENDS" default:"1024" description:"Maximum number of pooled backend connections"`
		AllowClientRoutes bool          `long:"allow-client-routes" env:"ALLOW_CLIENT_ROUTES" description:"Route unregistered services to addresses supplied by clients"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Registry struct {
		File string `long:"file" env:"FILE" default:"services.yaml" description:"YAML file of backend services"`
	} `group:"Registry" namespace:"registry" env-namespace:"REGISTRY"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Diagnostics" namespace:"diagnostics" env-namespace:"DIAGNOSTICS"`
})

func loadRegistry() (*registry.Registry, error) {
	var entries, err = registry.Load(Config.Registry.File)
	if err != nil {
		return nil, err
	}
	return registry.New(entries, registry.WithClientRoutes(Config.Broker.AllowClientRoutes))
}

type cmdServe struct{}

func (cmdServe) Execute([]string) error {
	defer mbp.Recover()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
		"config":    Config,
	}).Info("starting zbroker")
	prometheus.MustRegister(broker.Collectors()...)

	var reg, err = loadRegistry()
	mbp.Must(err, "failed to load service registry", "file", Config.Registry.File)

	b, err := broker.New(Config.Broker.Listen, reg,
		broker.WithLogger(log.StandardLogger()),
		broker.WithRequestTimeout(Config.Broker.RequestTimeout),
		broker.WithDialTimeout(Config.Broker.DialTimeout),
		broker.WithSendTimeout(Config.Broker.SendTimeout),
		broker.WithIdleTimeout(Config.Broker.IdleTimeout),
		broker.WithMaxBackends(Config.Broker.MaxBackends),
	)
	mbp.Must(err, "failed to build broker")
	mbp.Must(b.Bind(), "failed to bind broker", "endpoint", Config.Broker.Listen)

	diag, err := mbp.InitDiagnostics(Config.Diagnostics)
	mbp.Must(err, "failed to start diagnostics")

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var grp, gctx = errgroup.WithContext(ctx)
	grp.Go(func() error { return b.Serve(gctx) })
	if diag != nil {
		grp.Go(func() error { return diag.Serve(gctx) })
	}

	mbp.Must(grp.Wait(), "zbroker task failed")
	log.Info("goodbye")
	return nil
}

type cmdServices struct{}

func (cmdServices) Execute([]string) error {
	mbp.InitLog(Config.Log)

	var reg, err = loadRegistry()
	mbp.Must(err, "failed to load service registry", "file", Config.Registry.File)

	return writeServices(os.Stdout, reg)
}

// writeServices renders the registry's services as a table.
func writeServices(w io.Writer, reg *registry.Registry) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Service", "Address", "Kind")

	for _, desc := range reg.Services() {
		if err := table.Append(desc.ServiceID, desc.Address, desc.Kind.String()); err != nil {
			return err
		}
	}
	return table.Render()
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as a zbroker", `
Serve a service broker with the provided configuration, until signaled to
exit (via SIGTERM or SIGINT). Requests still pending at exit are answered
with BACKEND_UNAVAILABLE.
`, &cmdServe{})

	_, _ = parser.AddCommand("services", "List registered services", `
Load the service registry file and print the active services it defines.
`, &cmdServices{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
