// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"echo", "calculator", "file-service", "service.with.dots", "überdienst"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", strings.Repeat("x", 256), "bad\x00id", "tab\tid", string([]byte{0xff, 0xfe})} {
		assert.Error(t, ValidateID(id), "%q", id)
	}
}

func TestValidateAddress(t *testing.T) {
	for _, addr := range []string{"tcp://127.0.0.1:5555", "ipc:///tmp/echo.sock", "inproc://echo"} {
		assert.NoError(t, ValidateAddress(addr), addr)
	}
	for _, addr := range []string{"", "127.0.0.1:5555", "tcp://", "http://example.com", "://x"} {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}

func TestNewSkipsInactiveEntries(t *testing.T) {
	var r, err = New([]Entry{
		{ServiceID: "echo", Address: "tcp://127.0.0.1:5601", Active: true},
		{ServiceID: "legacy", Address: "tcp://127.0.0.1:5602", Active: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	d, err := r.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{ServiceID: "echo", Address: "tcp://127.0.0.1:5601", Kind: Static}, d)

	_, err = r.Lookup("legacy")
	assert.True(t, errors.Is(err, ErrServiceNotFound))
}

func TestNewRejectsBadEntries(t *testing.T) {
	var cases = [][]Entry{
		{{ServiceID: "", Address: "tcp://127.0.0.1:1", Active: true}},
		{{ServiceID: "echo", Address: "nowhere", Active: true}},
		{
			{ServiceID: "echo", Address: "tcp://127.0.0.1:1", Active: true},
			{ServiceID: "echo", Address: "tcp://127.0.0.1:2", Active: true},
		},
	}
	for i, entries := range cases {
		_, err := New(entries)
		assert.Error(t, err, "case %d", i)
	}

	// A duplicate is fine when one of the two is inactive.
	_, err := New([]Entry{
		{ServiceID: "echo", Address: "tcp://127.0.0.1:1", Active: true},
		{ServiceID: "echo", Address: "tcp://127.0.0.1:2", Active: false},
	})
	assert.NoError(t, err)
}

func TestLookupNormalizesIDs(t *testing.T) {
	// "é" precomposed vs. "e" + combining acute accent.
	var r, err = New([]Entry{{ServiceID: "café", Address: "tcp://127.0.0.1:1", Active: true}})
	require.NoError(t, err)

	d, err := r.Lookup("café")
	require.NoError(t, err)
	assert.Equal(t, "café", d.ServiceID)
}

func TestResolve(t *testing.T) {
	var entries = []Entry{{ServiceID: "echo", Address: "tcp://127.0.0.1:5601", Active: true}}

	t.Run("static_only", func(t *testing.T) {
		var r, err = New(entries)
		require.NoError(t, err)
		assert.False(t, r.AllowsClientRoutes())

		d, err := r.Resolve("echo", "tcp://10.0.0.1:9")
		require.NoError(t, err)
		assert.Equal(t, "tcp://127.0.0.1:5601", d.Address, "static entries win over client addresses")
		assert.Equal(t, Static, d.Kind)

		_, err = r.Resolve("missing", "tcp://127.0.0.1:9")
		assert.True(t, errors.Is(err, ErrServiceNotFound))
	})

	t.Run("client_routes", func(t *testing.T) {
		var r, err = New(entries, WithClientRoutes(true))
		require.NoError(t, err)

		d, err := r.Resolve("adhoc", "tcp://127.0.0.1:7000")
		require.NoError(t, err)
		assert.Equal(t, Descriptor{ServiceID: "adhoc", Address: "tcp://127.0.0.1:7000", Kind: Dynamic}, d)

		_, err = r.Resolve("adhoc", "")
		assert.True(t, errors.Is(err, ErrServiceNotFound))

		_, err = r.Resolve("adhoc", "bogus")
		assert.True(t, errors.Is(err, ErrServiceNotFound))

		assert.Equal(t, 1, r.Len(), "resolving never mutates the static table")
	})
}

func TestServicesAreSorted(t *testing.T) {
	var r, err = New([]Entry{
		{ServiceID: "zeta", Address: "tcp://127.0.0.1:3", Active: true},
		{ServiceID: "alpha", Address: "tcp://127.0.0.1:1", Active: true},
		{ServiceID: "mid", Address: "tcp://127.0.0.1:2", Active: true},
	})
	require.NoError(t, err)

	var ids []string
	for _, d := range r.Services() {
		ids = append(ids, d.ServiceID)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestParseAndLoad(t *testing.T) {
	const fixture = `
services:
  - service_id: echo
    address: tcp://127.0.0.1:5601
    active: true
  - service_id: reports
    address: ipc:///tmp/reports.sock
    active: false
`
	entries, err := Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ServiceID: "echo", Address: "tcp://127.0.0.1:5601", Active: true},
		{ServiceID: "reports", Address: "ipc:///tmp/reports.sock", Active: false},
	}, entries)

	var path = filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)

	empty, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Parse(strings.NewReader("services:\n  - service_id: echo\n    port: 12\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "static", Static.String())
	assert.Equal(t, "dynamic", Dynamic.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
