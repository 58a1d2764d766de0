// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by chi route pattern.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelrec_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"route"},
	)

	// Recommendations counts retrieval calls.
	// Labels:
	//   - kind: "recommend", "surprise"
	//   - outcome: "ok", "partial", "error"
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_recommendations_total",
			Help: "Total number of recommendation requests",
		},
		[]string{"kind", "outcome"},
	)

	// AuthAttempts counts sign-up and sign-in attempts.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_auth_attempts_total",
			Help: "Total number of sign-up and sign-in attempts",
		},
		[]string{"action", "outcome"},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// ObserveRecommendation records the outcome of a recommend or surprise call.
func ObserveRecommendation(kind string, partial bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case partial:
		outcome = "partial"
	}
	Recommendations.WithLabelValues(kind, outcome).Inc()
}

// ObserveAuth records a sign-up or sign-in attempt.
func ObserveAuth(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	AuthAttempts.WithLabelValues(action, outcome).Inc()
}

// RegisterGauges exposes live directory sizes on reg. It is called once per
// server; registering the same names twice returns an error.
func RegisterGauges(reg prometheus.Registerer, users, sessions func() int) error {
	usersGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "reelrec_users",
		Help: "Number of registered users",
	}, func() float64 { return float64(users()) })
	sessionsGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "reelrec_sessions",
		Help: "Number of live sessions",
	}, func() float64 { return float64(sessions()) })

	return errors.Join(reg.Register(usersGauge), reg.Register(sessionsGauge))
}
