// Package metrics declares the Prometheus collectors of the booking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_admissions_total",
			Help: "Admitted bookings by resulting status",
		},
		[]string{"status"},
	)

	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_promotions_total",
			Help: "Waitlist promotions by reason",
		},
		[]string{"reason"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Status transitions by target status",
		},
		[]string{"to"},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_sweep_items_total",
			Help: "Items handled by periodic sweeps",
		},
		[]string{"sweep", "result"},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_notification_failures_total",
			Help: "Notifications that could not be handed to the broker",
		},
		[]string{"template"},
	)

	SlotTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_slot_tx_duration_seconds",
			Help:    "Time spent inside slot-locked transactions",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
