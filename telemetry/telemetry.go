// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package telemetry holds the Prometheus collectors of the indexer.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// clob_indexer_events_processed_total
	//
	// counter of events applied to the store
	//
	// Has the following labels:
	// * event - the event kind
	EventsProcessedMetricName = "clob_indexer_events_processed_total"

	// clob_indexer_events_dropped_total
	//
	// counter of events dropped because a prerequisite row or token was missing
	//
	// Has the following labels:
	// * event - the event kind
	// * reason - the missing prerequisite
	EventsDroppedMetricName = "clob_indexer_events_dropped_total"

	// clob_indexer_fifo_scan_steps
	//
	// histogram of orders visited by one take
	FifoScanStepsMetricName = "clob_indexer_fifo_scan_steps"

	// clob_indexer_indexed_block
	//
	// gauge of the last block committed to the store
	IndexedBlockMetricName = "clob_indexer_indexed_block"

	// clob_indexer_token_lookups_total
	//
	// counter of token metadata lookups
	//
	// Has the following labels:
	// * source - cache, table or rpc
	TokenLookupsMetricName = "clob_indexer_token_lookups_total"

	EventsProcessedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: EventsProcessedMetricName,
			Help: "counter of events applied to the store",
		},
		[]string{"event"},
	)

	EventsDroppedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: EventsDroppedMetricName,
			Help: "counter of events dropped because a prerequisite was missing",
		},
		[]string{"event", "reason"},
	)

	FifoScanStepsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    FifoScanStepsMetricName,
			Help:    "orders visited by one take",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	IndexedBlockGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: IndexedBlockMetricName,
			Help: "last block committed to the store",
		},
	)

	TokenLookupsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: TokenLookupsMetricName,
			Help: "counter of token metadata lookups by source",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(EventsProcessedCounter)
	prometheus.MustRegister(EventsDroppedCounter)
	prometheus.MustRegister(FifoScanStepsHistogram)
	prometheus.MustRegister(IndexedBlockGauge)
	prometheus.MustRegister(TokenLookupsCounter)
}
