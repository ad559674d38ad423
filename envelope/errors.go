// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrorHeader prefixes every error frame. The leading NUL keeps it from
// colliding with textual reply bodies.
const ErrorHeader = "\x00ZBE01"

// Code is a stable error code carried by an error frame.
type Code string

// Error codes sent back to clients.
const (
	CodeMalformedEnvelope  Code = "MALFORMED_ENVELOPE"
	CodeServiceNotFound    Code = "SERVICE_NOT_FOUND"
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	// CodeServiceError is emitted by backends whose request handler failed.
	CodeServiceError Code = "SERVICE_ERROR"
)

// RemoteError is an error frame received in place of a reply.
type RemoteError struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// ErrorFrame encodes code and detail as a single error frame.
func ErrorFrame(code Code, detail string) []byte {
	var b, err = json.Marshal(RemoteError{Code: code, Detail: detail})
	if err != nil {
		panic(err) // RemoteError holds only strings.
	}
	return append([]byte(ErrorHeader), b...)
}

// IsErrorFrame reports whether frame starts with ErrorHeader.
func IsErrorFrame(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte(ErrorHeader))
}

// ParseErrorFrame decodes an error frame.
func ParseErrorFrame(frame []byte) (*RemoteError, error) {
	if !IsErrorFrame(frame) {
		return nil, errors.New("envelope: not an error frame")
	}
	var rerr = new(RemoteError)
	if err := json.Unmarshal(frame[len(ErrorHeader):], rerr); err != nil {
		return nil, errors.Wrap(err, "envelope: decoding error frame")
	}
	if rerr.Code == "" {
		return nil, errors.New("envelope: error frame without a code")
	}
	return rerr, nil
}
