// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import "github.com/prometheus/client_golang/prometheus"

// Keys for broker metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for Broker metrics.
var (
	errorEnvelopesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zbroker_error_envelopes_total",
		Help: "Cumulative number of error envelopes returned to clients, by code.",
	}, []string{"code"})
	forwardedRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zbroker_forwarded_requests_total",
		Help: "Cumulative number of requests forwarded to a backend.",
	})
	relayedRepliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zbroker_relayed_replies_total",
		Help: "Cumulative number of backend replies relayed to clients.",
	})
	unsolicitedRepliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zbroker_unsolicited_replies_total",
		Help: "Cumulative number of backend replies with no pending request, which were dropped.",
	})
	backendDialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zbroker_backend_dials_total",
		Help: "Cumulative number of backend dials, by result.",
	}, []string{"result"})
	backendEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zbroker_backend_evictions_total",
		Help: "Cumulative number of backend connections evicted from the pool, by reason.",
	}, []string{"reason"})
	pooledBackends = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zbroker_pooled_backends",
		Help: "Number of backend connections currently pooled.",
	})
)

// Collectors returns the broker's metrics, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		errorEnvelopesTotal,
		forwardedRequestsTotal,
		relayedRepliesTotal,
		unsolicitedRepliesTotal,
		backendDialsTotal,
		backendEvictionsTotal,
		pooledBackends,
	}
}
