package metrics

import "github.com/prometheus/client_golang/prometheus"

// ─── Admin API ───

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HTTPInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo",
	})

	// WatchStreams son las conexiones SSE abiertas.
	WatchStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "config_watch_streams",
		Help: "Streams de watch abiertos",
	})
)

func RegisterHTTP(reg prometheus.Registerer) error {
	return register(reg, HTTPRequests, HTTPRequestDuration, HTTPInflight, WatchStreams)
}
