package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// スコープの終了結果（outcome: committed, rolled_back, dry_run, lock_failed, error）
	ScopesTotal *prometheus.CounterVec

	// スコープに参加したアダプター数
	ScopeAdapters prometheus.Histogram

	// コーディネーターのファンアウト所要時間（op: commit/rollback, status: success/failed）
	FanOutDuration *prometheus.HistogramVec

	// 分散ロックの操作時間（operation: acquire/release, status: success/failed）
	DistributedLockDuration *prometheus.HistogramVec

	// ストアごとの未解決チェックポイント数（store, backend）
	CheckpointDepth *prometheus.GaugeVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ScopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_scopes_total",
				Help: "Total number of transaction scopes by outcome",
			},
			[]string{"outcome"},
		),
		ScopeAdapters: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transaction_scope_adapters",
				Help:    "Number of adapters registered per transaction scope",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
			},
		),
		FanOutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_fanout_duration_seconds",
				Help:    "Time spent fanning commit/rollback out to adapters",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op", "status"},
		),
		DistributedLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distributed_lock_duration_seconds",
				Help:    "Time spent on distributed lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
		CheckpointDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "store_checkpoint_depth",
				Help: "Current number of unmatched begin calls per store",
			},
			[]string{"store", "backend"},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ScopesTotal,
		m.ScopeAdapters,
		m.FanOutDuration,
		m.DistributedLockDuration,
		m.CheckpointDepth,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
