// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 会话指标
	SessionsTotal   *prometheus.GaugeVec
	SessionDuration prometheus.Histogram

	// 远程指令指标
	CommandsIssuedTotal   *prometheus.CounterVec
	CommandsFinishedTotal *prometheus.CounterVec

	// 监控采集指标
	ActivitiesTotal  *prometheus.CounterVec
	ScreenshotsTotal prometheus.Counter
	SuspiciousTotal  prometheus.Counter

	// WebSocket 指标
	WSClientsActive prometheus.Gauge
	WSAdminsActive  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics 创建指标实例
//
// promauto 注册到全局 registry，重复注册会 panic，进程内单例。
// namespace 只在首次调用时生效。
func NewMetrics(namespace string) *Metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics(namespace)
	})
	return metricsInst
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		SessionsTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Exam sessions by status",
			},
			[]string{"status"},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Ended session duration in seconds",
				Buckets:   []float64{60, 300, 600, 1800, 3600, 7200, 10800, 14400},
			},
		),
		CommandsIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_issued_total",
				Help:      "Remote commands issued by type",
			},
			[]string{"type"},
		),
		CommandsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_finished_total",
				Help:      "Remote commands finished by terminal status",
			},
			[]string{"status"},
		),
		ActivitiesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activities_total",
				Help:      "Activity log entries by type",
			},
			[]string{"type"},
		),
		ScreenshotsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "screenshots_total",
				Help:      "Screenshots received",
			},
		),
		SuspiciousTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspicious_activities_total",
				Help:      "Suspicious activities reported",
			},
		),
		WSClientsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients_active",
				Help:      "Active student WebSocket connections",
			},
		),
		WSAdminsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_admins_active",
				Help:      "Active admin WebSocket connections",
			},
		),
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将 ID 替换为占位符，避免高基数
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/api/admin/sessions/") {
		rest := path[len("/api/admin/sessions/"):]
		if rest == "" || rest == "active" {
			return path
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/admin/sessions/{id}" + rest[i:]
		}
		return "/api/admin/sessions/{id}"
	}
	if strings.HasPrefix(path, "/api/admin/screenshots/") {
		rest := path[len("/api/admin/screenshots/"):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/admin/screenshots/{id}" + rest[i:]
		}
		return "/api/admin/screenshots/{id}"
	}
	return path
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordCommandIssued 记录指令下发
func (m *Metrics) RecordCommandIssued(cmdType string) {
	m.CommandsIssuedTotal.WithLabelValues(cmdType).Inc()
}

// RecordCommandFinished 记录指令终态
func (m *Metrics) RecordCommandFinished(status string) {
	m.CommandsFinishedTotal.WithLabelValues(status).Inc()
}

// RecordActivity 记录活动上报
func (m *Metrics) RecordActivity(activityType string) {
	m.ActivitiesTotal.WithLabelValues(activityType).Inc()
	if activityType == "suspicious" {
		m.SuspiciousTotal.Inc()
	}
}

// RecordScreenshot 记录截图上报
func (m *Metrics) RecordScreenshot() {
	m.ScreenshotsTotal.Inc()
}

// RecordSessionEnded 记录会话结束时长
func (m *Metrics) RecordSessionEnded(duration time.Duration) {
	m.SessionDuration.Observe(duration.Seconds())
}

// SetSessionsCount 设置会话数量
func (m *Metrics) SetSessionsCount(status string, count int) {
	m.SessionsTotal.WithLabelValues(status).Set(float64(count))
}
