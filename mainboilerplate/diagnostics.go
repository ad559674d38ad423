// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mainboilerplate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures pull-based application metrics.
type DiagnosticsConfig struct {
	Listen string `long:"listen" env:"LISTEN" default:"127.0.0.1:9090" description:"Address serving /debug/metrics and /debug/ready. Empty disables"`
}

// Diagnostics serves Prometheus metrics and a liveness check.
type Diagnostics struct {
	srv *http.Server
	ln  net.Listener
}

// InitDiagnostics binds the diagnostics server described by cfg, serving
// metrics of the default Prometheus registry. A nil *Diagnostics is
// returned if cfg.Listen is empty.
func InitDiagnostics(cfg DiagnosticsConfig) (*Diagnostics, error) {
	if cfg.Listen == "" {
		return nil, nil
	}
	var mux = http.NewServeMux()
	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/debug/metrics", promhttp.Handler())

	var ln, err = net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errors.Wrapf(err, "diagnostics: listening on %s", cfg.Listen)
	}
	return &Diagnostics{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

// Addr returns the bound address of the diagnostics server.
func (d *Diagnostics) Addr() net.Addr { return d.ln.Addr() }

// Serve serves until ctx is done.
func (d *Diagnostics) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		var sctx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.srv.Shutdown(sctx)
	}()

	log.WithField("addr", d.ln.Addr().String()).Info("serving diagnostics")
	if err := d.srv.Serve(d.ln); err != http.ErrServerClosed {
		return errors.Wrap(err, "diagnostics")
	}
	return nil
}

// Recover is deferred by main functions to make a best effort attempt at
// writing a termination message, before re-raising a panic.
func Recover() {
	if r := recover(); r != nil {
		// Bug: https://github.com/kubernetes/kubernetes/issues/31839
		if f, err := os.OpenFile(k8sTerminationLog, os.O_WRONLY, 0777); err == nil {
			fmt.Fprintf(f, "%+v", r)
			f.Close()
		}
		panic(r)
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

const (
	// k8sTerminationLog is the location to write a termination message for
	// Kubernetes to retrieve.
	k8sTerminationLog = "/dev/termination-log"
)
