package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// Metrics 执行统计，nil 时所有记录方法为空操作
type Metrics struct {
	runs          *prometheus.CounterVec
	cases         *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	uploadFailure *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traceiq",
			Name:      "runs_total",
			Help:      "Number of finished test runs by status.",
		}, []string{"status"}),
		cases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traceiq",
			Name:      "cases_total",
			Help:      "Number of executed test cases by status.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "traceiq",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a test run including artifact upload.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "traceiq",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual steps by kind and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		uploadFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traceiq",
			Name:      "artifact_upload_failures_total",
			Help:      "Artifact uploads that failed, by artifact type.",
		}, []string{"artifact"}),
	}
}

func (m *Metrics) observeRun(status domain.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) observeCase(status domain.Status) {
	if m == nil {
		return
	}
	m.cases.WithLabelValues(string(status)).Inc()
}

// observeStep 作为 executor.Observer 使用
func (m *Metrics) observeStep(kind step.Kind, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stepDuration.WithLabelValues(string(kind), outcome).Observe(d.Seconds())
}

func (m *Metrics) uploadFailed(artifact string) {
	if m == nil {
		return
	}
	m.uploadFailure.WithLabelValues(artifact).Inc()
}
