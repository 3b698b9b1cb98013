/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossil_poller_changes_total",
			Help: "New changes emitted by Fossil pollers",
		},
		[]string{"repository"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossil_poller_errors_total",
			Help: "Failed Fossil polls by kind of failure",
		},
		[]string{"repository", "kind"},
	)
)

// Values of the kind label.
const (
	kindHTTP     = "http"
	kindJSON     = "json"
	kindProtocol = "protocol"
	kindState    = "state"
	kindSink     = "sink"
)
