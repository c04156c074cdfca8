package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS relay.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	playlistsRewritten  *prometheus.CounterVec
	upstreamErrorsTotal *prometheus.CounterVec
	segmentBytesTotal   prometheus.Counter
	activeStreams       prometheus.Gauge
	discoveryTotal      *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	playlistsRewritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_playlists_rewritten_total",
		Help: "Playlists fetched and rewritten, by playlist type",
	}, []string{"kind"})
	upstreamErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_upstream_errors_total",
		Help: "Failed upstream fetches, by stage (request, status, body)",
	}, []string{"stage"})
	segmentBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segment_bytes_total",
		Help: "Bytes piped from origins to clients for segments and other media",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_segment_streams",
		Help: "Number of media bodies currently being piped to clients",
	})
	discoveryTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_discovery_total",
		Help: "Player page discoveries, by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		playlistsRewritten,
		upstreamErrorsTotal,
		segmentBytesTotal,
		activeStreams,
		discoveryTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		playlistsRewritten:  playlistsRewritten,
		upstreamErrorsTotal: upstreamErrorsTotal,
		segmentBytesTotal:   segmentBytesTotal,
		activeStreams:       activeStreams,
		discoveryTotal:      discoveryTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncPlaylistsRewritten counts a rewritten playlist of the given kind
// ("master", "media", "unknown").
func (m *Metrics) IncPlaylistsRewritten(kind string) {
	m.playlistsRewritten.WithLabelValues(kind).Inc()
}

// IncUpstreamErrors counts a failed upstream fetch at the given stage.
func (m *Metrics) IncUpstreamErrors(stage string) {
	m.upstreamErrorsTotal.WithLabelValues(stage).Inc()
}

// AddSegmentBytes adds n piped bytes.
func (m *Metrics) AddSegmentBytes(n int64) {
	m.segmentBytesTotal.Add(float64(n))
}

// StreamStarted and StreamFinished track in-flight media pipes.
func (m *Metrics) StreamStarted() {
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	m.activeStreams.Dec()
}

// IncDiscovery counts a discovery by outcome.
func (m *Metrics) IncDiscovery(outcome string) {
	m.discoveryTotal.WithLabelValues(outcome).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
