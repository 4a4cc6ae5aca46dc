// Package observability holds the Prometheus metrics of the MES core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRows counts telemetry rows accepted from the collector.
	IngestRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_ingest_rows_total",
		Help: "Telemetry rows accepted from the collector",
	}, []string{"stream"})

	// IngestFailures counts rows that failed persistence after retries.
	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_ingest_failures_total",
		Help: "Telemetry rows dropped after exhausting retries",
	}, []string{"stream"})

	// DetectorEmits counts change events emitted per stream.
	DetectorEmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_detector_emits_total",
		Help: "Significant-change events emitted by detectors",
	}, []string{"stream"})

	// DetectorSuppressed counts changes suppressed by the per-machine rate
	// limit.
	DetectorSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_detector_suppressed_total",
		Help: "Changes suppressed by the minimum broadcast interval",
	}, []string{"stream"})

	// StreamSubscribers tracks connected subscribers per topic.
	StreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_stream_subscribers",
		Help: "Currently connected stream subscribers",
	}, []string{"topic"})

	// StreamDrops counts events dropped from slow subscriber queues.
	StreamDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_stream_dropped_events_total",
		Help: "Events dropped from slow subscriber queues",
	}, []string{"topic"})

	// StreamEvictions counts subscribers evicted for falling too far behind.
	StreamEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_stream_evictions_total",
		Help: "Subscribers evicted after persistent overflow",
	}, []string{"topic"})

	// SchedulingRunDuration observes full scheduling run latency.
	SchedulingRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mes_scheduling_run_duration_seconds",
		Help:    "Duration of complete scheduling runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// RescheduleRuns counts reschedules by trigger and outcome.
	RescheduleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_reschedule_runs_total",
		Help: "Reschedule controller runs",
	}, []string{"trigger", "outcome"})

	// ActiveScheduleVersions tracks the current number of active SVs.
	ActiveScheduleVersions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_active_schedule_versions",
		Help: "Schedule versions currently marked active",
	})

	// PriorityMoves counts priority reindex operations.
	PriorityMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_priority_moves_total",
		Help: "Project priority moves",
	}, []string{"outcome"})

	// HTTPInFlight tracks concurrently served API requests.
	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_http_inflight_requests",
		Help: "API requests currently being served",
	})

	// WSClients tracks connected dashboard WebSocket clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mes_dashboard_ws_clients",
		Help: "Connected dashboard WebSocket clients",
	})
)
