// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mainboilerplate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLog(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)
	defer log.SetOutput(log.StandardLogger().Out)

	InitLog(LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	InitLog(LogConfig{Level: "warn", Format: "color", Output: "stdout"})
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	assert.True(t, log.StandardLogger().Formatter.(*log.TextFormatter).ForceColors)
	assert.Equal(t, os.Stdout, log.StandardLogger().Out)

	assert.Panics(t, func() { InitLog(LogConfig{Level: "loud"}) })
}

func TestConfigureLogger(t *testing.T) {
	var l = log.New()
	l.SetLevel(log.ErrorLevel)

	require.NoError(t, ConfigureLogger(l, LogConfig{Format: "text"}))
	assert.Equal(t, log.ErrorLevel, l.Level, "empty level is left alone")
	assert.True(t, l.Formatter.(*log.TextFormatter).DisableColors)
	assert.Equal(t, os.Stderr, l.Out)

	assert.Error(t, ConfigureLogger(l, LogConfig{Format: "xml"}))
	assert.Error(t, ConfigureLogger(l, LogConfig{Level: "loud"}))
	assert.Error(t, ConfigureLogger(l, LogConfig{Output: "/dev/null"}))
}

func TestParseIniFiles(t *testing.T) {
	var cfg struct {
		Broker struct {
			Listen string `long:"listen"`
		} `group:"Broker" namespace:"broker"`
	}
	var parser = flags.NewParser(&cfg, flags.Default)

	var dir = t.TempDir()
	var good = filepath.Join(dir, "good.ini")
	require.NoError(t, os.WriteFile(good, []byte("[Broker]\nlisten = tcp://127.0.0.1:7000\nunknown = 1\n"), 0o600))

	path, err := ParseIniFiles(parser, []string{filepath.Join(dir, "missing.ini"), good})
	require.NoError(t, err)
	assert.Equal(t, good, path)
	assert.Equal(t, "tcp://127.0.0.1:7000", cfg.Broker.Listen)
	assert.Zero(t, parser.Options&flags.IgnoreUnknown, "options are restored")

	path, err = ParseIniFiles(parser, []string{filepath.Join(dir, "missing.ini")})
	require.NoError(t, err)
	assert.Empty(t, path)

	var bad = filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(bad, []byte("[Broker\n"), 0o600))
	_, err = ParseIniFiles(parser, []string{bad, good})
	assert.Error(t, err)
}

func TestConfigPaths(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("HOME", "/home/someone")
	t.Setenv("UserProfile", "")
	assert.Equal(t, []string{"zbroker.ini", "/home/someone/.config/zbroker/zbroker.ini"}, ConfigPaths("zbroker.ini"))

	t.Setenv(ConfigFileEnv, "/etc/zbroker.ini")
	assert.Equal(t, []string{"/etc/zbroker.ini"}, ConfigPaths("zbroker.ini"))
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil, "ok") })
	assert.Panics(t, func() { Must(errors.New("boom"), "failed", "key", "value") })
}

func TestDiagnostics(t *testing.T) {
	d, err := InitDiagnostics(DiagnosticsConfig{})
	require.NoError(t, err)
	assert.Nil(t, d, "disabled")

	d, err = InitDiagnostics(DiagnosticsConfig{Listen: "127.0.0.1:0"})
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	for _, path := range []string{"/debug/ready", "/debug/metrics"} {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", d.Addr(), path))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	cancel()
	assert.NoError(t, <-done)
}
