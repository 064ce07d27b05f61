package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "venuebook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	availabilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_checks_total",
			Help:      "Availability checks by resource kind.",
		},
		[]string{"kind"},
	)

	conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Conflicting bookings found by availability checks.",
		},
		[]string{"kind"},
	)

	seriesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_created_total",
			Help:      "Recurring series committed.",
		},
	)

	occurrencesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occurrences_generated_total",
			Help:      "Occurrences produced by the recurrence generator.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)
)

// Notification results.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			availabilityChecks,
			conflictsDetected,
			seriesCreated,
			occurrencesGenerated,
			notifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAvailabilityCheck(kind string) {
	availabilityChecks.WithLabelValues(kind).Inc()
}

func AddConflicts(kind string, n int) {
	if n > 0 {
		conflictsDetected.WithLabelValues(kind).Add(float64(n))
	}
}

func IncSeriesCreated() {
	seriesCreated.Inc()
}

func AddOccurrences(n int) {
	if n > 0 {
		occurrencesGenerated.Add(float64(n))
	}
}

// IncNotification records one delivery outcome; result is one of the Result constants.
func IncNotification(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}
