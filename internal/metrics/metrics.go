package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsPersisted counts records written or deleted by sync passes.
	RecordsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_sync_records_persisted_total",
		Help: "Records successfully mirrored to the durable store, by kind",
	}, []string{"kind"})

	RecordsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_sync_records_failed_total",
		Help: "Records that failed to persist and stay queued, by kind",
	}, []string{"kind"})

	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_sync_store_failures_total",
		Help: "Whole-store persistence failures (panics), by kind",
	}, []string{"kind"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchcore_sync_tick_duration_seconds",
		Help:    "Duration of one durable sync tick",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	IntegrityFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchcore_integrity_fixes_total",
		Help: "Dangling references repaired by the integrity pass",
	})

	CachedRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchcore_cache_records",
		Help: "Records resident in memory, by kind",
	}, []string{"kind"})

	// AIAttempts counts provider calls by result (ok, retryable, fatal).
	AIAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_ai_attempts_total",
		Help: "Calls made to the conversational AI provider",
	}, []string{"result"})

	AIFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchcore_ai_fallbacks_total",
		Help: "Conversation sends answered with the fallback reply",
	})

	AIFlushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchcore_ai_flush_dropped_total",
		Help: "Immediate conversation persists dropped because the queue was full",
	})

	QuizCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_quiz_completions_total",
		Help: "Completed quiz sessions, by result category",
	}, []string{"category"})

	QuizReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchcore_quiz_reaped_total",
		Help: "Abandoned quiz sessions purged from memory",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
