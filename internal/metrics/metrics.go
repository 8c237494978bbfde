// Package metrics exposes the broker's Prometheus surface. Adapted from
// the teacher's internal/metrics package: same promauto/promhttp wiring
// and Record*/Handler() shape, metrics renamed and re-scoped to this
// domain's components (gateway, router, group, call, push, rate limit)
// instead of the teacher's PIN/TOTP/SSL/audit-pipeline metrics, which
// have no equivalent here.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_websocket_connections",
			Help: "Number of live WebSocket connections on this instance",
		},
		[]string{"server_id"},
	)

	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_frames_total",
			Help: "Total frames processed over WebSocket, by type and direction",
		},
		[]string{"frame_type", "direction"}, // direction: inbound, outbound
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_total",
			Help: "Total messages accepted by the router/group engine",
		},
		[]string{"kind"}, // direct, group
	)

	MessageDeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_delivery_latency_seconds",
			Help:    "Time from envelope persist to delivery attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"delivery_type"}, // local, cross_instance, pending
	)

	RegisterAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_register_attempts_total",
			Help: "register_begin/register_proof outcomes",
		},
		[]string{"stage", "result"}, // stage: begin, proof; result: ok, failure
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_rate_limit_rejections_total",
			Help: "Requests rejected by the per-identity sliding window limiter",
		},
		[]string{"frame_type"},
	)

	PendingQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_pending_queue_depth",
			Help: "Approximate depth of the offline pending-message queue",
		},
		[]string{"whisper_id"},
	)

	OfflineMessagesQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_offline_messages_queued_total",
			Help: "Envelopes parked in the pending queue after local/cross-instance delivery failed",
		},
	)

	OfflineMessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_offline_messages_delivered_total",
			Help: "Pending-queue items fetched via fetch_pending",
		},
	)

	GroupMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_group_messages_total",
			Help: "group_send_message fan-outs, by outcome",
		},
		[]string{"result"}, // accepted, rejected
	)

	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_calls_total",
			Help: "Call signaling lifecycle events",
		},
		[]string{"event"}, // initiated, ringing, answered, ended, timeout
	)

	CallEndReasonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_call_end_reasons_total",
			Help: "Call end reasons",
		},
		[]string{"reason"},
	)

	PushNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_push_notifications_total",
			Help: "Wake-only push notifications sent via APNs",
		},
		[]string{"reason", "result"}, // reason: message, call; result: sent, suppressed, failed
	)

	AttachmentGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_attachment_grants_total",
			Help: "Presigned attachment access grants issued",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_http_requests_total",
			Help: "REST requests handled outside the WebSocket frame protocol",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_http_request_duration_seconds",
			Help:    "REST request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware wraps the REST mux the same way the teacher's does,
// capturing status code via a wrapped ResponseWriter.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler exposes /metrics for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordFrame(frameType, direction string) {
	FramesTotal.WithLabelValues(frameType, direction).Inc()
}

func RecordMessageSent(kind string) {
	MessagesTotal.WithLabelValues(kind).Inc()
}

func RecordDeliveryLatency(deliveryType string, latency time.Duration) {
	MessageDeliveryLatency.WithLabelValues(deliveryType).Observe(latency.Seconds())
}

func RecordRegisterAttempt(stage string, success bool) {
	result := "failure"
	if success {
		result = "ok"
	}
	RegisterAttemptsTotal.WithLabelValues(stage, result).Inc()
}

func RecordRateLimitRejection(frameType string) {
	RateLimitRejectionsTotal.WithLabelValues(frameType).Inc()
}

func RecordOfflineQueued() {
	OfflineMessagesQueuedTotal.Inc()
}

func RecordOfflineDelivered(count int) {
	OfflineMessagesDeliveredTotal.Add(float64(count))
}

func RecordGroupMessage(result string) {
	GroupMessagesTotal.WithLabelValues(result).Inc()
}

func RecordCallEvent(event string) {
	CallsTotal.WithLabelValues(event).Inc()
}

func RecordCallEndReason(reason string) {
	CallEndReasonsTotal.WithLabelValues(reason).Inc()
}

func RecordPushNotification(reason, result string) {
	PushNotificationsTotal.WithLabelValues(reason, result).Inc()
}

func RecordAttachmentGrant(result string) {
	AttachmentGrantsTotal.WithLabelValues(result).Inc()
}
