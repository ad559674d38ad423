// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Logging flags follow the layout of go.gazette.dev/core/mainboilerplate
// (MIT License), so that zbroker is configured like other gazette-style
// daemons.

package mainboilerplate

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	Output string `long:"output" env:"OUTPUT" default:"stderr" choice:"stderr" choice:"stdout" description:"Stream log events are written to"`
}

var logFormatters = map[string]func() log.Formatter{
	"json": func() log.Formatter {
		return &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	},
	"text": func() log.Formatter {
		return &log.TextFormatter{FullTimestamp: true, DisableColors: true}
	},
	"color": func() log.Formatter {
		return &log.TextFormatter{FullTimestamp: true, ForceColors: true}
	},
}

var logOutputs = map[string]io.Writer{
	"":       os.Stderr,
	"stderr": os.Stderr,
	"stdout": os.Stdout,
}

// ConfigureLogger applies cfg to l. Empty fields leave l's current setting
// in place, except Output which defaults to stderr.
func ConfigureLogger(l *log.Logger, cfg LogConfig) error {
	var out, ok = logOutputs[cfg.Output]
	if !ok {
		return errors.Errorf("unrecognized log output %q", cfg.Output)
	}

	if cfg.Format != "" {
		var newFormatter, ok = logFormatters[cfg.Format]
		if !ok {
			return errors.Errorf("unrecognized log format %q", cfg.Format)
		}
		l.SetFormatter(newFormatter())
	}
	if cfg.Level != "" {
		var lvl, err = log.ParseLevel(cfg.Level)
		if err != nil {
			return errors.WithMessage(err, "log level")
		}
		l.SetLevel(lvl)
	}
	l.SetOutput(out)
	return nil
}

// InitLog configures the standard logger, and panics if cfg is invalid.
func InitLog(cfg LogConfig) {
	Must(ConfigureLogger(log.StandardLogger(), cfg), "invalid log configuration")
}
