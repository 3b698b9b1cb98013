/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossil_commands_total",
			Help: "Fossil and patch commands run on workers, by subcommand and result",
		},
		[]string{"subcommand", "result"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossil_reconcile_total",
			Help: "Completed checkouts by mode and result",
		},
		[]string{"mode", "result"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossil_reconcile_fallbacks_total",
			Help: "Strategy fallbacks taken during checkouts",
		},
		[]string{"from", "to"},
	)
)
