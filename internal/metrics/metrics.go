// Package metrics provides Prometheus instrumentation for the RoadWatch score service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoreMutationsTotal counts committed score mutations by event type.
	ScoreMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadwatch",
			Name:      "score_mutations_total",
			Help:      "Total committed score mutations by event type.",
		},
		[]string{"event_type"},
	)

	// ScoreMutationsClampedTotal counts mutations whose applied impact was
	// reduced by the [0,100] clamp.
	ScoreMutationsClampedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roadwatch",
		Name:      "score_mutations_clamped_total",
		Help:      "Total mutations where the applied impact was clamped.",
	})

	// ScoreMutationFailuresTotal counts failed mutation attempts by reason.
	ScoreMutationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadwatch",
			Name:      "score_mutation_failures_total",
			Help:      "Total failed score mutations by reason.",
		},
		[]string{"reason"},
	)

	// RecoverySweepsTotal counts recovery sweep runs.
	RecoverySweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roadwatch",
		Name:      "recovery_sweeps_total",
		Help:      "Total recovery sweeps executed.",
	})

	// RecoveryPointsAwardedTotal sums recovery points credited across all users.
	RecoveryPointsAwardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roadwatch",
		Name:      "recovery_points_awarded_total",
		Help:      "Total recovery points credited by the scheduler.",
	})

	// MilestonesDetectedTotal counts newly recorded milestones by type.
	MilestonesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadwatch",
			Name:      "milestones_detected_total",
			Help:      "Total milestones recorded by type.",
		},
		[]string{"milestone_type"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadwatch", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoreMutationsTotal,
		ScoreMutationsClampedTotal,
		ScoreMutationFailuresTotal,
		RecoverySweepsTotal,
		RecoveryPointsAwardedTotal,
		MilestonesDetectedTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
