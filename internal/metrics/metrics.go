// Package metrics exposes refresh and presence state as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calpresence/internal/model"
	"calpresence/internal/snapshot"
)

const namespace = "calpresence"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	eventsToday     prometheus.Gauge
	lastRefresh     prometheus.Gauge
	presence        *prometheus.GaugeVec
	publishErrors   *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Calendar refresh attempts by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of calendar refresh attempts that fetched the feed.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_today",
			Help:      "Number of events in the current snapshot.",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the current snapshot, 0 while empty.",
		}),
		presence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence",
			Help:      "1 if the device is present according to today's events.",
		}, []string{"device"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed presence publish attempts by device.",
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.eventsToday,
		m.lastRefresh,
		m.presence,
		m.publishErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RefreshCompleted implements snapshot.Observer.
func (m *Metrics) RefreshCompleted(outcome snapshot.Outcome, _ error, took time.Duration, current model.Snapshot) {
	m.refreshTotal.WithLabelValues(outcome.String()).Inc()
	if outcome == snapshot.OutcomeRefreshed || outcome == snapshot.OutcomeFailed {
		m.refreshDuration.Observe(took.Seconds())
	}
	m.eventsToday.Set(float64(current.Len()))
	if asOf, ok := current.AsOf(); ok {
		m.lastRefresh.Set(float64(asOf.Unix()))
	}
}

// PublishPresence records the reading. It lets Metrics sit in a
// presence.Sinks list next to the real sinks.
func (m *Metrics) PublishPresence(state model.PresenceState) error {
	v := 0.0
	if state.Present {
		v = 1
	}
	m.presence.WithLabelValues(state.Device).Set(v)
	return nil
}

// PublishFailed counts a failed publish for device.
func (m *Metrics) PublishFailed(device string) {
	m.publishErrors.WithLabelValues(device).Inc()
}

// TrackMQTT exports the broker connection state as a gauge read at scrape
// time. Call it at most once.
func (m *Metrics) TrackMQTT(connected func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_connected",
		Help:      "1 while the MQTT client is connected to the broker.",
	}, func() float64 {
		if connected() {
			return 1
		}
		return 0
	}))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
