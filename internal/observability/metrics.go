package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_ws_active_connections",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_realtime_events_total",
			Help: "Change events dispatched by the realtime broker.",
		},
		[]string{"table", "type"},
	)
	unreadRecomputesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_unread_recomputes_total",
			Help: "Full unread count recomputations triggered by change events.",
		},
	)
	partialWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_partial_writes_total",
			Help: "Writes whose second step failed after the first succeeded.",
		},
		[]string{"op"},
	)
	presenceOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_presence_online_users",
			Help: "Users currently seen on the presence channel.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
		[]string{"routing_key"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		realtimeEventsTotal,
		unreadRecomputesTotal,
		partialWritesTotal,
		presenceOnlineUsers,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncRealtimeEvent(table, eventType string) {
	realtimeEventsTotal.WithLabelValues(table, eventType).Inc()
}

func IncUnreadRecompute() {
	unreadRecomputesTotal.Inc()
}

func IncPartialWrite(op string) {
	partialWritesTotal.WithLabelValues(op).Inc()
}

func SetPresenceOnline(n int) {
	presenceOnlineUsers.Set(float64(n))
}

func IncAMQPPublishError(routingKey string) {
	amqpPublishErrorsTotal.WithLabelValues(routingKey).Inc()
}
