package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devserve"

// Registry owns a private Prometheus registry and the collectors the server,
// watcher and event bus report into. All methods are safe on a nil receiver.
type Registry struct {
	registry *prometheus.Registry

	reloads          *prometheus.CounterVec
	connectedClients prometheus.Gauge
	watchEvents      *prometheus.CounterVec
	watchCoalesced   prometheus.Counter
	watchErrors      prometheus.Counter
	activeWatches    prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventSubscribers *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	r := &Registry{
		registry: registry,
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Reload signals broadcast to connected clients by kind",
		}, []string{"kind"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of browsers connected to the live-reload endpoint",
		}),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Filesystem events matching a watch pattern by operation",
		}, []string{"op"}),
		watchCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_coalesced_total",
			Help:      "Filesystem events folded into an already pending batch",
		}),
		watchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Transient filesystem watcher errors",
		}),
		activeWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_watches",
			Help:      "Directories currently registered with the filesystem watcher",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Static file requests by status class",
		}, []string{"class"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published on an internal bus",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_dropped_total",
			Help:      "Events dropped because a subscriber was full",
		}, []string{"bus", "type"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Subscribers on an internal bus",
		}, []string{"bus"}),
	}
	registry.MustRegister(
		r.reloads,
		r.connectedClients,
		r.watchEvents,
		r.watchCoalesced,
		r.watchErrors,
		r.activeWatches,
		r.httpRequests,
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscribers,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) IncReload(kind string) {
	if r == nil {
		return
	}
	r.reloads.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (r *Registry) SetConnectedClients(count int) {
	if r == nil {
		return
	}
	r.connectedClients.Set(float64(count))
}

func (r *Registry) IncWatchEvent(op string) {
	if r == nil {
		return
	}
	r.watchEvents.WithLabelValues(normalizeLabel(op)).Inc()
}

func (r *Registry) IncWatchCoalesced() {
	if r == nil {
		return
	}
	r.watchCoalesced.Inc()
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Inc()
}

func (r *Registry) SetActiveWatches(count int) {
	if r == nil {
		return
	}
	r.activeWatches.Set(float64(count))
}

func (r *Registry) IncHTTPRequest(status int) {
	if r == nil {
		return
	}
	class := "other"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	}
	r.httpRequests.WithLabelValues(class).Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(normalizeLabel(bus), normalizeLabel(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(normalizeLabel(bus), normalizeLabel(eventType)).Inc()
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(normalizeLabel(bus)).Set(float64(count))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
