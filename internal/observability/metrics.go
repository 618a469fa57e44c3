package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "minyan_finder", Name: "searches_total", Help: "Total synagogue searches served"})
	ReportsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "minyan_finder", Name: "reports_created_total", Help: "Total minyan reports created"})
	VerificationsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "minyan_finder", Name: "report_verifications_total", Help: "Total report verification calls"})
	FeedSubscribers     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "minyan_finder", Name: "feed_subscribers", Help: "Connected live-feed websocket subscribers"})

	ZmanimFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "minyan_finder", Name: "zmanim_provider_failures_total", Help: "Prayer-time provider failures that fell through to the next tier"},
		[]string{"provider"},
	)
	ZmanimResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "minyan_finder", Name: "zmanim_resolved_total", Help: "Prayer-time resolutions by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "minyan_finder", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minyan_finder",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
