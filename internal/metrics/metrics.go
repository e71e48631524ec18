package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "events_ingested_total",
		Help:      "Gateway events recorded into activity windows, by kind.",
	}, []string{"kind"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "frames_dropped_total",
		Help:      "Raw gateway frames discarded before classification.",
	})

	Evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "evaluations_total",
		Help:      "Threat evaluations performed.",
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "antiraid",
		Name:      "evaluation_duration_seconds",
		Help:      "Wall time of a single threat evaluation.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})

	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "alerts_dispatched_total",
		Help:      "Raid alerts delivered to log channels, by kind.",
	}, []string{"kind"})

	FalsePositives = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "false_positives_total",
		Help:      "Evaluations suppressed as recognised false positives.",
	})

	KnownPatterns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "antiraid",
		Name:      "known_patterns",
		Help:      "Behavioral signatures currently held in pattern memory.",
	})

	AuditLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "audit_lookups_total",
		Help:      "Audit-log executor resolutions, by outcome.",
	}, []string{"outcome"})

	CaptchasIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "captchas_issued_total",
		Help:      "Verification challenges sent to suspicious joiners.",
	})

	CaptchasSolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antiraid",
		Name:      "captchas_solved_total",
		Help:      "Verification challenges answered correctly.",
	})
)

// ObserveEvaluation records one evaluation and its duration
func ObserveEvaluation(d time.Duration) {
	Evaluations.Inc()
	EvaluationDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr. Meant for a loopback address; nothing
// here authenticates the caller.
func Serve(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("metrics listener up", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}
