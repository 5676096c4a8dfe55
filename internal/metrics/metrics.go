// ============================================================================
// Trip-Planner Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露請求、快照與 worker 的運行指標
//
// 指標分類:
//
//   1. 請求計數器 (Counter):
//      - planner_requests_accepted_total: 已接受請求數
//      - planner_requests_rejected_total{reason}: 被拒絕請求數（invalid / duplicate / error）
//      - planner_snapshots_total{stage}: 各階段送出的快照數
//      - planner_worker_outcomes_total{kind,status}: worker 終止狀態
//      - planner_degraded_total{kind,reason}: Final 快照中的降級項目
//
//   2. 延遲分佈 (Histogram):
//      - planner_worker_duration_seconds{kind}: worker 從開始到終止的時間
//      - planner_time_to_final_seconds: 請求接受到 Final 快照的時間
//        * 桶分佈涵蓋 quick-ack (5s) 與 final (30s) 兩個期限
//
//   3. 狀態指標 (Gauge):
//      - planner_requests_in_flight: 尚未送出 Final 的請求數
//
// Prometheus 查詢示例:
//
//   # 逾時降級比例
//   sum(rate(planner_degraded_total{reason="timeout"}[5m]))
//     / rate(planner_requests_accepted_total[5m])
//
//   # 95 分位 Final 時間
//   histogram_quantile(0.95, rate(planner_time_to_final_seconds_bucket[5m]))
//
// HTTP 端點:
//   /metrics，默認端口 9090
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planner"

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45}

// Collector Prometheus 指標收集器
//
// 同時實作 scheduler.Recorder 與 coordinator.RequestRecorder。
type Collector struct {
	// 請求相關指標
	requestsAccepted prometheus.Counter
	requestsRejected *prometheus.CounterVec
	inFlight         prometheus.Gauge
	timeToFinal      prometheus.Histogram

	// 快照與 worker 指標
	snapshots      *prometheus.CounterVec
	workerOutcomes *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	degraded       *prometheus.CounterVec
}

// NewCollector 創建指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith 創建指標收集器並註冊到 reg
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_accepted_total",
			Help:      "Total number of accepted plan requests",
		}),
		requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Total number of rejected plan requests by reason",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Current number of requests without a final snapshot",
		}),
		timeToFinal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_final_seconds",
			Help:      "Time from request acceptance to the final snapshot",
			Buckets:   durationBuckets,
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total number of snapshots emitted by stage",
		}, []string{"stage"}),
		workerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_outcomes_total",
			Help:      "Total number of finished workers by kind and terminal status",
		}, []string{"kind", "status"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_seconds",
			Help:      "Worker run time from start to terminal status",
			Buckets:   durationBuckets,
		}, []string{"kind"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Total number of degraded workers in final snapshots by kind and reason",
		}, []string{"kind", "reason"}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.requestsAccepted,
		c.requestsRejected,
		c.inFlight,
		c.timeToFinal,
		c.snapshots,
		c.workerOutcomes,
		c.workerDuration,
		c.degraded,
	)
	return c
}

// RecordAccepted 記錄接受一個請求
func (c *Collector) RecordAccepted() {
	c.requestsAccepted.Inc()
}

// RecordRejected 記錄拒絕一個請求
func (c *Collector) RecordRejected(reason string) {
	c.requestsRejected.WithLabelValues(reason).Inc()
}

// SetInFlight 設置執行中請求數
func (c *Collector) SetInFlight(n int) {
	c.inFlight.Set(float64(n))
}

// RecordSnapshot 記錄送出一個快照
func (c *Collector) RecordSnapshot(stage types.Stage) {
	c.snapshots.WithLabelValues(string(stage)).Inc()
}

// RecordWorkerOutcome 記錄 worker 進入終止狀態
func (c *Collector) RecordWorkerOutcome(kind types.WorkerKind, status string, d time.Duration) {
	c.workerOutcomes.WithLabelValues(string(kind), status).Inc()
	if d > 0 {
		c.workerDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	}
}

// RecordDegraded 記錄 Final 快照中的一個降級項目
func (c *Collector) RecordDegraded(kind types.WorkerKind, reason types.ReasonCode) {
	c.degraded.WithLabelValues(string(kind), string(reason)).Inc()
}

// RecordTimeToFinal 記錄請求接受到 Final 快照的時間
func (c *Collector) RecordTimeToFinal(d time.Duration) {
	c.timeToFinal.Observe(d.Seconds())
}

// Handler 返回 /metrics 處理器
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServer 建立 Prometheus metrics HTTP 伺服器（尚未啟動）
//
// 參數：
//   - port: HTTP 伺服器端口
func NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(nil))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
