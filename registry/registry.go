// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry maps service identifiers to backend connection metadata.
//
// A Registry is loaded once from a list of configured entries and is read-only
// afterwards. When client-supplied routes are allowed, Resolve also accepts an
// address carried by the request itself and synthesizes a Dynamic descriptor
// for identifiers the static table does not know.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// MaxIDLength is the longest service identifier accepted, in bytes.
const MaxIDLength = 255

// ErrServiceNotFound is returned for identifiers that cannot be resolved.
var ErrServiceNotFound = errors.New("registry: service not found")

// Kind tells where a Descriptor came from.
type Kind int

const (
	// Static descriptors are loaded from configuration at startup.
	Static Kind = iota
	// Dynamic descriptors are synthesized from a client's routing frame.
	Dynamic
)

// String returns the kind as a lower-case word.
func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor describes how to reach one service.
type Descriptor struct {
	ServiceID string
	Address   string
	Kind      Kind
}

// Entry is one configured backend, as found in a registry file.
type Entry struct {
	ServiceID string `yaml:"service_id"`
	Address   string `yaml:"address"`
	Active    bool   `yaml:"active"`
}

// Option configures a Registry.
type Option func(r *Registry)

// WithClientRoutes allows requests to name their own backend address for
// identifiers absent from the static table.
func WithClientRoutes(allow bool) Option {
	return func(r *Registry) {
		r.clientRoutes = allow
	}
}

// Registry resolves service identifiers. It is immutable once built and
// safe for concurrent reads.
type Registry struct {
	static       map[string]Descriptor
	clientRoutes bool
}

// New builds a Registry from entries. Inactive entries are skipped.
// Two active entries with the same identifier are an error.
func New(entries []Entry, opts ...Option) (*Registry, error) {
	var r = &Registry{static: make(map[string]Descriptor, len(entries))}
	for _, opt := range opts {
		opt(r)
	}

	for i, e := range entries {
		if !e.Active {
			continue
		}
		var id = NormalizeID(e.ServiceID)
		if err := ValidateID(id); err != nil {
			return nil, errors.WithMessagef(err, "entry %d", i)
		}
		if err := ValidateAddress(e.Address); err != nil {
			return nil, errors.WithMessagef(err, "entry %d (%s)", i, id)
		}
		if _, dup := r.static[id]; dup {
			return nil, errors.Errorf("registry: duplicate service %q", id)
		}
		r.static[id] = Descriptor{ServiceID: id, Address: e.Address, Kind: Static}
	}
	return r, nil
}

// AllowsClientRoutes reports whether Resolve synthesizes Dynamic descriptors.
func (r *Registry) AllowsClientRoutes() bool { return r.clientRoutes }

// Lookup returns the static descriptor of id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	if d, ok := r.static[NormalizeID(id)]; ok {
		return d, nil
	}
	return Descriptor{}, errors.WithMessagef(ErrServiceNotFound, "%q", id)
}

// Resolve returns the static descriptor of id if one is configured.
// Otherwise, when client routes are allowed and the request carried an
// address, it returns a Dynamic descriptor for that address. Whether the
// address is actually reachable is left to the connection pool.
func (r *Registry) Resolve(id, address string) (Descriptor, error) {
	var nid = NormalizeID(id)
	if d, ok := r.static[nid]; ok {
		return d, nil
	}
	if !r.clientRoutes || address == "" {
		return Descriptor{}, errors.WithMessagef(ErrServiceNotFound, "%q", id)
	}
	if err := ValidateAddress(address); err != nil {
		return Descriptor{}, errors.WithMessagef(ErrServiceNotFound, "%q: %v", id, err)
	}
	return Descriptor{ServiceID: nid, Address: address, Kind: Dynamic}, nil
}

// Services returns the static descriptors ordered by identifier.
func (r *Registry) Services() []Descriptor {
	var out = make([]Descriptor, 0, len(r.static))
	for _, d := range r.static {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Len returns the number of static services.
func (r *Registry) Len() int { return len(r.static) }

// NormalizeID returns id in Unicode normalization form C, so that
// canonically equivalent identifiers select the same backend.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

// ValidateID checks that id is usable as a service identifier.
func ValidateID(id string) error {
	if len(id) == 0 {
		return errors.New("registry: empty service id")
	}
	if len(id) > MaxIDLength {
		return errors.Errorf("registry: service id too long: %d bytes (max %d)", len(id), MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return errors.Errorf("registry: service id %q is not valid UTF-8", id)
	}
	for _, c := range id {
		if unicode.IsControl(c) {
			return errors.Errorf("registry: service id %q contains control characters", id)
		}
	}
	return nil
}

var transports = []string{"tcp", "ipc", "inproc"}

// ValidateAddress checks that addr is a ZeroMQ endpoint of a supported transport,
// such as "tcp://127.0.0.1:5555".
func ValidateAddress(addr string) error {
	var i = strings.Index(addr, "://")
	if i <= 0 || i+3 == len(addr) {
		return errors.Errorf("registry: invalid address %q", addr)
	}
	var scheme = addr[:i]
	for _, t := range transports {
		if scheme == t {
			return nil
		}
	}
	return errors.Errorf("registry: unsupported transport %q in address %q", scheme, addr)
}
