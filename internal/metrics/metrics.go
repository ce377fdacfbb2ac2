// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redemptions counts scanner outcomes by result.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_redemptions_total",
		Help: "Scanner redeem and validate attempts by result.",
	}, []string{"action", "result"})

	// PassUpdates counts applied field mutations by entry point.
	PassUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_pass_updates_total",
		Help: "Applied pass field updates by source.",
	}, []string{"source"})

	// Deliveries counts channel outcomes of update fan-out.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_deliveries_total",
		Help: "Delivery outcomes per channel.",
	}, []string{"channel", "status"})

	// ApplePushes counts individual APNs pushes.
	ApplePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_apple_pushes_total",
		Help: "APNs pushes by outcome.",
	}, []string{"outcome"})

	// BulkPasses counts passes processed by bulk update jobs.
	BulkPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_bulk_update_passes_total",
		Help: "Passes processed by bulk updates by outcome.",
	}, []string{"outcome"})

	// QueueJobs counts handled queue jobs.
	QueueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_queue_jobs_total",
		Help: "Queue jobs handled by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ScanEventWriteFailures counts audit rows that could not be stored.
	ScanEventWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_scan_event_write_failures_total",
		Help: "Scan events that failed to persist.",
	})

	// JobDuration observes job handling latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_queue_job_duration_seconds",
		Help:    "Queue job handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
