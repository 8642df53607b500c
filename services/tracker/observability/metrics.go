// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the tracker service.
//
// Metrics cover scan number allocations (count, duration, claim retries)
// and configuration changes. They are exposed on /metrics and are safe for
// concurrent use via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "numtracker"

// TrackerMetrics holds all Prometheus metrics for scan number operations.
// Initialize once at startup via InitMetrics().
type TrackerMetrics struct {
	// AllocationsTotal counts scan number allocations.
	// Labels: instrument, status (success, race, unavailable, error)
	AllocationsTotal *prometheus.CounterVec

	// AllocationDurationSeconds measures end-to-end allocation latency,
	// including directory probing and file claims.
	// Labels: instrument
	AllocationDurationSeconds *prometheus.HistogramVec

	// ClaimRetriesTotal counts tracker file claim attempts lost to
	// concurrent writers.
	// Labels: instrument
	ClaimRetriesTotal *prometheus.CounterVec

	// ConfigurationUpdatesTotal counts configuration upserts.
	// Labels: instrument, status (success, error)
	ConfigurationUpdatesTotal *prometheus.CounterVec

	// ActiveAllocations tracks allocations currently in flight.
	// Labels: instrument
	ActiveAllocations *prometheus.GaugeVec
}

// DefaultMetrics is the singleton instance of TrackerMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TrackerMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *TrackerMetrics {
	DefaultMetrics = &TrackerMetrics{
		AllocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "allocations_total",
				Help:      "Total scan number allocations by instrument and status",
			},
			[]string{"instrument", "status"},
		),

		AllocationDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "allocation_duration_seconds",
				Help:      "End-to-end scan number allocation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"instrument"},
		),

		ClaimRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "claim_retries_total",
				Help:      "Tracker file claims lost to concurrent writers",
			},
			[]string{"instrument"},
		),

		ConfigurationUpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "configuration_updates_total",
				Help:      "Instrument configuration updates by status",
			},
			[]string{"instrument", "status"},
		),

		ActiveAllocations: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_allocations",
				Help:      "Scan number allocations currently in flight",
			},
			[]string{"instrument"},
		),
	}

	return DefaultMetrics
}

// AllocationStatus labels the outcome of one allocation.
type AllocationStatus string

const (
	// StatusSuccess indicates a number was allocated.
	StatusSuccess AllocationStatus = "success"

	// StatusRace indicates claim retries were exhausted.
	StatusRace AllocationStatus = "race"

	// StatusUnavailable indicates the tracker directory could not be read.
	StatusUnavailable AllocationStatus = "unavailable"

	// StatusError indicates any other failure.
	StatusError AllocationStatus = "error"
)

// RecordAllocation records a completed allocation attempt.
func (m *TrackerMetrics) RecordAllocation(instrument string, status AllocationStatus, seconds float64) {
	m.AllocationsTotal.WithLabelValues(instrument, string(status)).Inc()
	m.AllocationDurationSeconds.WithLabelValues(instrument).Observe(seconds)
}

// RecordClaimRetry records a claim attempt lost to a concurrent writer.
func (m *TrackerMetrics) RecordClaimRetry(instrument string) {
	m.ClaimRetriesTotal.WithLabelValues(instrument).Inc()
}

// RecordConfigurationUpdate records a configuration upsert.
func (m *TrackerMetrics) RecordConfigurationUpdate(instrument string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ConfigurationUpdatesTotal.WithLabelValues(instrument, status).Inc()
}

// AllocationStarted increments the in-flight gauge.
func (m *TrackerMetrics) AllocationStarted(instrument string) {
	m.ActiveAllocations.WithLabelValues(instrument).Inc()
}

// AllocationEnded decrements the in-flight gauge.
func (m *TrackerMetrics) AllocationEnded(instrument string) {
	m.ActiveAllocations.WithLabelValues(instrument).Dec()
}
