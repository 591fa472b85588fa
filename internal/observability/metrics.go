package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	attemptsStartedTotal   prometheus.Counter
	finalizationsTotal     *prometheus.CounterVec
	integrityEventsTotal   prometheus.Counter
	submissionEventsTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kodeuji_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kodeuji_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kodeuji_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		attemptsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kodeuji_attempts_started_total",
			Help: "Total number of coding attempts started.",
		})

		finalizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kodeuji_attempt_finalizations_total",
			Help: "Total number of attempt finalizations by trigger and outcome.",
		}, []string{"trigger", "status"})

		integrityEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kodeuji_integrity_events_total",
			Help: "Total number of recorded focus loss events.",
		})

		submissionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kodeuji_submission_events_total",
			Help: "Total number of submission events published, by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			attemptsStartedTotal,
			finalizationsTotal,
			integrityEventsTotal,
			submissionEventsTotal,
		)
	})
}

// APIRequests exposes the counter for served requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for served requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// AttemptsStarted exposes the counter for started attempts.
func AttemptsStarted() prometheus.Counter {
	RegisterMetrics()
	return attemptsStartedTotal
}

// Finalizations exposes the counter for attempt finalizations.
func Finalizations() *prometheus.CounterVec {
	RegisterMetrics()
	return finalizationsTotal
}

// IntegrityEvents exposes the counter for focus loss events.
func IntegrityEvents() prometheus.Counter {
	RegisterMetrics()
	return integrityEventsTotal
}

// SubmissionEvents exposes the counter for published submission events.
func SubmissionEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionEventsTotal
}
