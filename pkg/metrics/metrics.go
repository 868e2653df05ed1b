package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 后端 API 调用延迟（毫秒）
	BackendCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_latency_ms",
			Help:    "Haper backend API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~20s
		},
		[]string{"endpoint", "status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"method", "path", "status"},
	)

	// 流式状态快照计数
	StreamChunkCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_stream_chunks_total",
			Help: "Total number of status snapshots decoded from backend streams",
		},
		[]string{"stream"}, // stream: batch_action, message_processing, reply
	)

	// 轮询结束原因
	PollOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_outcome_total",
			Help: "Terminal outcomes of status polling sessions",
		},
		[]string{"kind", "outcome"}, // outcome: done, finalized, timeout, error, canceled
	)

	// 流重连次数
	StreamReconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_stream_reconnects_total",
			Help: "Total number of backend stream reconnect attempts",
		},
		[]string{"stream", "error_type"},
	)

	// OAuth 回调计数
	OAuthCallbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_callback_total",
			Help: "OAuth callback results by provider and action",
		},
		[]string{"provider", "action", "result"},
	)

	// 防抖同步计数
	DebounceFlushCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debounce_flush_total",
			Help: "Debounced field sync flushes",
		},
		[]string{"status"}, // status: success, failed
	)

	// 领域事件发布计数
	EventPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Domain events published to MQ or parked in the outbox",
		},
		[]string{"routing_key", "result"}, // result: published, outbox, dropped
	)
)

// RecordBackendCall 记录后端调用延迟
func RecordBackendCall(endpoint, status string, duration time.Duration) {
	BackendCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementStreamChunk 增加流快照计数
func IncrementStreamChunk(stream string) {
	StreamChunkCount.WithLabelValues(stream).Inc()
}

// IncrementStreamReconnect 增加流重连计数
func IncrementStreamReconnect(stream, errorType string) {
	StreamReconnectCount.WithLabelValues(stream, errorType).Inc()
}

// IncrementPollOutcome 记录轮询结束原因
func IncrementPollOutcome(kind, outcome string) {
	PollOutcomeCount.WithLabelValues(kind, outcome).Inc()
}

// IncrementOAuthCallback 记录 OAuth 回调结果
func IncrementOAuthCallback(provider, action, result string) {
	OAuthCallbackCount.WithLabelValues(provider, action, result).Inc()
}

// IncrementDebounceFlush 记录防抖同步结果
func IncrementDebounceFlush(status string) {
	DebounceFlushCount.WithLabelValues(status).Inc()
}

// IncrementEventPublish 记录事件发布结果
func IncrementEventPublish(routingKey, result string) {
	EventPublishCount.WithLabelValues(routingKey, result).Inc()
}
