// Package metrics exposes Prometheus collectors for review and run activity.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

type Metrics struct {
	ReviewsTotal     *prometheus.CounterVec
	VerdictsTotal    *prometheus.CounterVec
	IssuesTotal      *prometheus.CounterVec
	Scores           *prometheus.HistogramVec
	RunsTotal        *prometheus.CounterVec
	StorageRetries   prometheus.Counter
	StateRecoveries  prometheus.Counter
	ProducerFailures *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// Get returns the process-wide collectors, registering them on first use.
//
// Metrics:
//   - phasegate_reviews_total{phase}
//   - phasegate_verdicts_total{phase,verdict}
//   - phasegate_issues_total{phase,severity}
//   - phasegate_review_score{phase}
//   - phasegate_runs_total{policy,status}
//   - phasegate_storage_retries_total
//   - phasegate_state_recoveries_total
//   - phasegate_producer_failures_total{producer}
//   - phasegate_http_requests_total{method,route,status}
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ReviewsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_reviews_total", Help: "Reviews recorded per phase"},
				[]string{"phase"},
			),
			VerdictsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_verdicts_total", Help: "Gate verdicts per phase and kind"},
				[]string{"phase", "verdict"},
			),
			IssuesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_issues_total", Help: "Issues emitted by the checklist evaluator"},
				[]string{"phase", "severity"},
			),
			Scores: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "phasegate_review_score",
					Help:    "Distribution of review scores",
					Buckets: prometheus.LinearBuckets(0, 10, 11),
				},
				[]string{"phase"},
			),
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_runs_total", Help: "Workflow runs by policy and final status"},
				[]string{"policy", "status"},
			),
			StorageRetries: promauto.NewCounter(
				prometheus.CounterOpts{Name: "phasegate_storage_retries_total", Help: "Transient storage errors retried"},
			),
			StateRecoveries: promauto.NewCounter(
				prometheus.CounterOpts{Name: "phasegate_state_recoveries_total", Help: "Project states reinitialised after corruption"},
			),
			ProducerFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_producer_failures_total", Help: "Producer calls that returned no content"},
				[]string{"producer"},
			),
			HTTPRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "phasegate_http_requests_total", Help: "API requests by route and status"},
				[]string{"method", "route", "status"},
			),
		}
	})
	return global
}
