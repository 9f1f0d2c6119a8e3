// Package metrics provides Prometheus metrics for monitoring
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrestore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devrestore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"method", "path"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devrestore_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// Restore metrics
	RestoreInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrestore_restore_invocations_total",
			Help: "Restore operations by action and result",
		},
		[]string{"action", "result"},
	)

	RestoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devrestore_restore_duration_seconds",
			Help:    "Duration of the external restore operation",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"action"},
	)

	// Security metrics
	CSRFRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devrestore_csrf_rejections_total",
			Help: "State-changing requests rejected for a bad anti-forgery token",
		},
	)

	AuthorizationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrestore_authorization_rejections_total",
			Help: "Requests rejected for insufficient privilege",
		},
		[]string{"path"},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrestore_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"method", "status"},
	)

	// Scheduler metrics
	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devrestore_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		},
	)

	SchedulerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devrestore_scheduler_tasks_total",
			Help: "Total number of scheduled tasks executed",
		},
		[]string{"task", "status"},
	)

	// Application info
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devrestore_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_date", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devrestore_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	SystemGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devrestore_system_goroutines",
			Help: "Number of goroutines",
		},
	)
)

var (
	initOnce  sync.Once
	startTime time.Time
)

// Init sets the application info metric and starts the uptime updater
func Init(version, commit, buildDate string) {
	initOnce.Do(func() {
		startTime = time.Now()
		AppInfo.WithLabelValues(version, commit, buildDate, runtime.Version()).Set(1)
		go updateMetrics()
	})
}

func updateMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		AppUptime.Set(time.Since(startTime).Seconds())
		SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	}
}

// RecordRestore records one restore invocation
func RecordRestore(action, result string, duration time.Duration) {
	RestoreInvocations.WithLabelValues(action, result).Inc()
	if duration > 0 {
		RestoreDuration.WithLabelValues(action).Observe(duration.Seconds())
	}
}

// RecordAuthAttempt records an authentication attempt
func RecordAuthAttempt(method, status string) {
	AuthAttempts.WithLabelValues(method, status).Inc()
}

// RecordSchedulerTask records scheduler task execution
func RecordSchedulerTask(task, status string) {
	SchedulerTasksTotal.WithLabelValues(task, status).Inc()
}
