package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket sessions on this node",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Inbound socket events by name and dispatch result",
	}, []string{"event", "result"})
	WsEventDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_ws_event_duration_seconds",
		Help:    "Time spent handling one inbound socket event",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
	FramesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_frames_delivered_total",
		Help: "Outbound frames queued to local sessions",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_frames_dropped_total",
		Help: "Outbound frames dropped because a session queue was full",
	})
	FanoutPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_publish_total",
		Help: "Envelopes published to the fan-out transport",
	}, []string{"driver", "result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsEventsTotal, WsEventDuration,
		FramesDelivered, FramesDropped, FanoutPublishTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
