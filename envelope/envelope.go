// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package envelope encodes and decodes the multi-frame messages exchanged
// between clients, the broker and backends.
//
// A request, as seen by the broker's ROUTER socket, is laid out as:
//
//	[identity][empty][routing][body...]
//
// The identity frame is the return address assigned by the transport, and
// the empty delimiter must follow it directly. The
// routing frame names the target service and optional call configuration.
// Body frames are opaque and are never inspected or modified.
package envelope

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/destiny/zbroker/registry"
)

// ErrMalformedEnvelope is returned for requests that cannot be routed.
var ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

// Route is the decoded routing frame.
type Route struct {
	Service string            `json:"service"`
	Address string            `json:"address,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Envelope is a decoded request.
type Envelope struct {
	Identity [][]byte // Return address, opaque.
	Route    Route
	RawRoute []byte   // Routing frame as received.
	Body     [][]byte // Payload frames, in order.
}

// Split separates the identity frame of a message received on a ROUTER
// socket from the frames following its delimiter. A ROUTER prepends exactly
// one non-empty identity frame, and a well-formed message carries the empty
// delimiter right after it. Empty frames further on belong to the payload.
//
// ok is false when the delimiter is missing. identity is then still
// returned when there is one, so that the sender can be answered, and rest
// holds every frame after it.
func Split(frames [][]byte) (identity, rest [][]byte, ok bool) {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil, frames, false
	}
	if len(frames) == 1 || len(frames[1]) != 0 {
		return frames[:1], frames[1:], false
	}
	return frames[:1], frames[2:], true
}

// Decode parses a request received on the broker's client-facing socket.
//
// On failure the returned error wraps ErrMalformedEnvelope and the returned
// Envelope still carries whatever identity frames could be recovered, so
// that the caller can address an error reply.
func Decode(frames [][]byte) (*Envelope, error) {
	var identity, rest, ok = Split(frames)
	var env = &Envelope{Identity: identity}

	if len(identity) == 0 {
		return env, errors.WithMessage(ErrMalformedEnvelope, "no identity frames")
	}
	if !ok {
		return env, errors.WithMessage(ErrMalformedEnvelope, "missing delimiter frame")
	}
	if len(rest) == 0 || len(rest[0]) == 0 {
		return env, errors.WithMessage(ErrMalformedEnvelope, "missing routing frame")
	}

	route, err := ParseRoute(rest[0])
	if err != nil {
		return env, err
	}
	env.Route = route
	env.RawRoute = rest[0]
	env.Body = rest[1:]
	return env, nil
}

// ParseRoute decodes a routing frame. A frame holding a JSON object is
// decoded as a Route; anything else is taken verbatim as the service id.
func ParseRoute(frame []byte) (Route, error) {
	var route Route

	if isJSONObject(frame) {
		if err := json.Unmarshal(frame, &route); err != nil {
			return Route{}, errors.WithMessagef(ErrMalformedEnvelope, "routing frame: %v", err)
		}
	} else {
		route.Service = string(frame)
	}

	route.Service = registry.NormalizeID(route.Service)
	if err := registry.ValidateID(route.Service); err != nil {
		return Route{}, errors.WithMessagef(ErrMalformedEnvelope, "routing frame: %v", err)
	}
	return route, nil
}

// Bytes encodes r as a routing frame. A Route naming only a service is
// encoded as the bare identifier.
func (r Route) Bytes() []byte {
	if r.Address == "" && len(r.Options) == 0 && !isJSONObject([]byte(r.Service)) {
		return []byte(r.Service)
	}
	var b, err = json.Marshal(r)
	if err != nil {
		panic(err) // Route holds only strings.
	}
	return b
}

func isJSONObject(frame []byte) bool {
	var trimmed = bytes.TrimSpace(frame)
	return len(trimmed) != 0 && trimmed[0] == '{'
}

// Passthrough returns frames unchanged. It is the only transformation
// ever applied to body frames, in either direction.
func Passthrough(frames [][]byte) [][]byte {
	return frames
}

// EncodeRequest builds a request as a client DEALER socket sends it.
// The broker's ROUTER socket adds the identity.
func EncodeRequest(route Route, body ...[]byte) [][]byte {
	var frames = make([][]byte, 0, len(body)+2)
	frames = append(frames, []byte{}, route.Bytes())
	return append(frames, body...)
}

// EncodeReply addresses body back to identity.
func EncodeReply(identity [][]byte, body [][]byte) [][]byte {
	var frames = make([][]byte, 0, len(identity)+len(body)+1)
	frames = append(frames, identity...)
	frames = append(frames, []byte{})
	return append(frames, Passthrough(body)...)
}

// EncodeError builds an error reply addressed to identity.
func EncodeError(identity [][]byte, code Code, detail string) [][]byte {
	return EncodeReply(identity, [][]byte{ErrorFrame(code, detail)})
}

// ParseReply interprets frames received by a client DEALER socket.
// It returns the reply body, or a *RemoteError if the broker or the
// backend answered with an error frame.
func ParseReply(frames [][]byte) ([][]byte, error) {
	if len(frames) == 0 || len(frames[0]) != 0 {
		return nil, errors.New("envelope: reply is missing its delimiter frame")
	}
	var body = frames[1:]
	if len(body) == 1 && IsErrorFrame(body[0]) {
		var rerr, err = ParseErrorFrame(body[0])
		if err != nil {
			return nil, err
		}
		return nil, rerr
	}
	return body, nil
}
