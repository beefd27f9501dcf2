package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "bookings_created_total", Help: "Total bookings created"})
	OffersIssued    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "offers_issued_total", Help: "Total offers issued"})
	ClaimsWon       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "claims_won_total", Help: "Total winning claims"})
	ClaimsRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "claims_rejected_total", Help: "Total late, duplicate or expired claims"})
	RoundsExhausted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "rounds_exhausted_total", Help: "Bookings that ran out of offer rounds"})
	EventsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "events_dropped_total", Help: "Events dropped due to slow subscribers"})
	ActiveTrips     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ambulance_dispatch", Name: "active_trips", Help: "Bookings currently between ACCEPTED and COMPLETED"})

	ClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ambulance_dispatch",
		Name:      "claim_to_accept_seconds",
		Help:      "Time from offer issue to winning claim",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ambulance_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
