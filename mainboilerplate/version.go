// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mainboilerplate contains shared boilerplate for this project's
// programs.
package mainboilerplate

// Version and BuildDate are populated at build time, with:
//
//	-ldflags "-X github.com/destiny/zbroker/mainboilerplate.Version=..."
var (
	Version   = "development"
	BuildDate = "unknown"
)
