package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_sessions_total",
		Help: "Sessions handled by the session endpoint, by outcome (created|resumed).",
	}, []string{"outcome"})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_sessions_ended_total",
		Help: "Sessions ended, by source (client|sweeper).",
	}, []string{"source"})

	PageViews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_pageviews_total",
		Help: "Page view writes, by kind (created|updated).",
	}, []string{"kind"})

	Events = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_custom_events_total",
		Help: "Custom events accepted.",
	})

	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_geo_lookups_total",
		Help: "Geolocation resolutions, by result (local|cache_hit|upstream|error|rate_limited).",
	}, []string{"result"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytics_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
