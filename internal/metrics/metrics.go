package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the SDK's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	eventsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brain",
			Subsystem: "analytics",
			Name:      "events_total",
			Help:      "Events handed to the event queue, by outcome.",
		},
		[]string{"outcome"},
	)

	batchesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brain",
			Subsystem: "analytics",
			Name:      "batches_total",
			Help:      "Batch upload attempts, by result.",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "brain",
			Subsystem: "analytics",
			Name:      "queue_depth",
			Help:      "Events currently buffered for upload.",
		},
	)

	checkoutFlows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brain",
			Subsystem: "payments",
			Name:      "checkout_flows_total",
			Help:      "Finished checkout flows, by outcome.",
		},
		[]string{"outcome"},
	)

	productRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brain",
			Subsystem: "payments",
			Name:      "product_requests_total",
			Help:      "Store product requests, by result.",
		},
		[]string{"result"},
	)

	stubRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brain",
			Subsystem: "stub",
			Name:      "requests_total",
			Help:      "Requests served by the stub backend.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		eventsTracked,
		batchesSent,
		queueDepth,
		checkoutFlows,
		productRequests,
		stubRequests,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordEvent(outcome string) {
	eventsTracked.WithLabelValues(outcome).Inc()
}

func RecordEvents(outcome string, count int) {
	if count <= 0 {
		return
	}
	eventsTracked.WithLabelValues(outcome).Add(float64(count))
}

func RecordBatch(result string) {
	batchesSent.WithLabelValues(result).Inc()
}

func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

func RecordCheckout(outcome string) {
	checkoutFlows.WithLabelValues(outcome).Inc()
}

func RecordProductRequest(result string) {
	productRequests.WithLabelValues(result).Inc()
}

func RecordStubRequest(method, route string, status int) {
	stubRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
