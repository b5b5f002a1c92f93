// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package metrics defines Prometheus instrumentation for the archival
// subsystem, the response cache, and the admin API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Archival metrics
	ArchiveRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_runs_total",
			Help: "Total number of fleet-wide archive sweeps",
		},
	)

	ArchiveEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_entries_total",
			Help: "Total number of audit-log entries migrated to cold storage",
		},
		[]string{"module"},
	)

	ArchivePartitionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_partition_errors_total",
			Help: "Total number of failed year-partition migrations",
		},
		[]string{"module"},
	)

	ArchiveSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_sweep_duration_seconds",
			Help:    "Duration of fleet-wide archive sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Response cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Current number of response cache entries",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one API request outcome.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
