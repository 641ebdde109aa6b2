// Package metrics 定义服务端暴露给 Prometheus 的指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 持有所有指标
// 所有方法对 nil 接收者都是空操作，方便测试和 CLI 里不挂指标
type Metrics struct {
	// gRPC
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// 版本引擎
	MergesTotal    *prometheus.CounterVec
	ConflictsTotal prometheus.Counter
	HeadMovesTotal *prometheus.CounterVec
}

// New 在 reg 上注册全部指标
// 生产环境传 prometheus.DefaultRegisterer，测试里传 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metavault_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "metavault_grpc_requests_in_flight",
				Help: "Number of gRPC requests currently being processed",
			},
		),
		MergesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_merges_total",
				Help: "Merge, cherry-pick and revert attempts by outcome",
			},
			[]string{"kind", "outcome"},
		),
		ConflictsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "metavault_merge_conflicts_total",
				Help: "Total number of conflicts reported by merges",
			},
		),
		HeadMovesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_branch_head_moves_total",
				Help: "Branch head moves by operation",
			},
			[]string{"move"},
		),
	}
}

func (m *Metrics) RecordRequest(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

// RecordMerge 记录一次合并类操作的结果，outcome: merged / conflict / stale / noop
func (m *Metrics) RecordMerge(kind, outcome string, conflicts int) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(kind, outcome).Inc()
	m.ConflictsTotal.Add(float64(conflicts))
}

func (m *Metrics) RecordHeadMove(move string) {
	if m == nil {
		return
	}
	m.HeadMovesTotal.WithLabelValues(move).Inc()
}
