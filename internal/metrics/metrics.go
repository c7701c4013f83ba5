// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package metrics registers the prometheus counters and gauges a caller
// embedding htpscan in a long-running analyzer would want: transaction
// throughput, the anomaly flags raised per transaction, and the
// decompressor restart/limit counts that indicate hostile or broken
// upstream bodies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/intuitivelabs/htpscan"
)

const namespace = "htpscan"

var (
	transactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions completed (request matched with response).",
		},
	)

	flagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_total",
			Help:      "Anomaly flags raised, by flag name.",
		},
		[]string{"flag"},
	)

	decompressionRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decompression_restarts_total",
			Help:      "Decompressor restart-protocol invocations across all connections.",
		},
	)

	decompressionLimitExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decompression_limit_exceeded_total",
			Help:      "Responses whose Content-Encoding chain exceeded the configured layer limit.",
		},
	)

	fieldLimitExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_limit_exceeded_total",
			Help:      "Directions aborted for exceeding the hard field-size limit.",
		},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently being parsed.",
		},
	)
)

// ConnectionOpened/ConnectionClosed track live Connection count; call
// these from the embedding caller's connection lifecycle, htpscan itself
// has no notion of "opened"/"closed" beyond Close().
func ConnectionOpened() { activeConnections.Inc() }
func ConnectionClosed() { activeConnections.Dec() }

// ObserveTransaction records one completed transaction and every anomaly
// flag raised on it. Intended to be called from a ResponseComplete hook.
func ObserveTransaction(tx *htpscan.Transaction) {
	transactionsTotal.Inc()
	for _, name := range tx.Flags.Names() {
		flagsTotal.WithLabelValues(name).Inc()
	}
	if tx.Flags.Test(htpscan.FlagDecompressionRestart) {
		decompressionRestartsTotal.Inc()
	}
	if tx.Flags.Test(htpscan.FlagDecompressionLimitExceeded) {
		decompressionLimitExceededTotal.Inc()
	}
}

// ObserveFieldLimitExceeded should be called from the Log hook whenever a
// direction aborts with ResError after a field-size overrun.
func ObserveFieldLimitExceeded() {
	fieldLimitExceededTotal.Inc()
}
