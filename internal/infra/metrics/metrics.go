// Package metrics provides prometheus collectors for the service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_events_total",
		Help: "Total number of inbound signaling events.",
	}, []string{"event", "result"})

	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Total number of applied state transitions.",
	}, []string{"from", "to"})

	WaitingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "waiting_sessions",
		Help: "Size of the waiting pool at the last matchmaker pass.",
	})

	MatchmakerPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_passes_total",
		Help: "Total number of completed matchmaker passes.",
	})

	MatchmakerPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaker_pass_duration_seconds",
		Help:    "Matchmaker pass durations in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	PairsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairs_matched_total",
		Help: "Total number of session pairs bridged into rooms.",
	})

	PairFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pair_failures_total",
		Help: "Total number of pairs abandoned due to persistence failures.",
	})

	TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_timeouts_total",
		Help: "Total number of sessions timed out of the waiting pool.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequests, HTTPDuration,
		EventsTotal, TransitionsTotal,
		WaitingSessions, MatchmakerPasses, MatchmakerPassDuration,
		PairsMatched, PairFailures, TimeoutsTotal,
	)
}
