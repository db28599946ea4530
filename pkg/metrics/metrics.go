// Package metrics registers the daemon's Prometheus instrumentation.
// Collectors are package-level and registered once at import time; the
// API surface exposes them on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts alerts accepted by the event bus, per source.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Alert events published to the event bus.",
	}, []string{"source"})

	// EventsDropped counts events dropped for slow subscribers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Events dropped due to subscriber backpressure.",
	})

	// Subscribers tracks the live event-bus subscription count.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "networktap",
		Subsystem: "bus",
		Name:      "subscribers",
		Help:      "Current event bus subscriptions.",
	})

	// TailLines counts complete lines consumed by the tail engine.
	TailLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "tail",
		Name:      "lines_total",
		Help:      "Complete lines read by log followers.",
	}, []string{"source"})

	// TailParseErrors counts lines the parser rejected.
	TailParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "tail",
		Name:      "parse_errors_total",
		Help:      "Lines skipped due to parse failures.",
	}, []string{"source"})

	// TailRotations counts rotation events detected per source.
	TailRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "tail",
		Name:      "rotations_total",
		Help:      "Log rotations detected by followers.",
	}, []string{"source"})

	// RetentionDeletedFiles counts capture artifacts removed.
	RetentionDeletedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "retention",
		Name:      "deleted_files_total",
		Help:      "Capture artifacts deleted by the retention engine.",
	})

	// RetentionDeletedBytes counts bytes reclaimed.
	RetentionDeletedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "retention",
		Name:      "deleted_bytes_total",
		Help:      "Bytes reclaimed by the retention engine.",
	})

	// HTTPRequests counts API requests by status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests served.",
	}, []string{"method", "status"})

	// WSClients tracks connected alert-stream websockets.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "networktap",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket alert subscribers.",
	})

	// ModeTransitions counts completed mode switches by outcome.
	ModeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "networktap",
		Subsystem: "mode",
		Name:      "transitions_total",
		Help:      "Mode transitions by outcome.",
	}, []string{"outcome"})
)
