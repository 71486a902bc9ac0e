package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersCreated   prometheus.Counter
	ordersSubmitted prometheus.Counter
	ordersTerminal  *prometheus.CounterVec

	// 成交指标
	fillsApplied     prometheus.Counter
	fillVolume       prometheus.Counter
	duplicateFills   prometheus.Counter
	unknownFills     prometheus.Counter
	overfillRejects  prometheus.Counter
	illegalTransits  prometheus.Counter
	fillApplyLatency prometheus.Histogram

	// 同步/对账指标
	snapshotsApplied prometheus.Counter
	staleEnvelopes   prometheus.Counter
	resyncRuns       prometheus.Counter

	// 连接指标
	wsConnected   prometheus.Gauge
	wsConnects    prometheus.Counter
	wsDisconnects prometheus.Counter

	// 分析指标
	patternsDetected     *prometheus.CounterVec
	correlationsDetected prometheus.Counter
	handlerPanics        prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "ot",
		Subsystem: "tracker",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_created_total",
			Help:      "订单创建总数",
		}),
		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_submitted_total",
			Help:      "订单提交总数",
		}),
		ordersTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_terminal_total",
			Help:      "到达终态的订单数（按终态分类）",
		}, []string{"state"}),

		fillsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fills_applied_total",
			Help:      "已应用成交总数",
		}),
		fillVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fill_volume_total",
			Help:      "已应用成交量累计",
		}),
		duplicateFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "duplicate_fills_dropped_total",
			Help:      "去重窗口丢弃的重复成交数",
		}),
		unknownFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "unknown_order_fills_total",
			Help:      "未知订单的成交数（竞态丢弃）",
		}),
		overfillRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "overfill_rejects_total",
			Help:      "超量成交拒绝数（对账差错）",
		}),
		illegalTransits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "illegal_transitions_total",
			Help:      "被状态机拒绝的转换数",
		}),
		fillApplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fill_apply_latency_seconds",
			Help:      "成交应用耗时分布（秒）",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		snapshotsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "snapshots_applied_total",
			Help:      "已合并的订单快照数",
		}),
		staleEnvelopes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stale_envelopes_dropped_total",
			Help:      "按序号丢弃的过期消息数",
		}),
		resyncRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "resync_runs_total",
			Help:      "全量重同步次数（重连/定时）",
		}),

		wsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_connected",
			Help:      "WebSocket 连接状态（1=已连接）",
		}),
		wsConnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_connects_total",
			Help:      "WebSocket 连接建立次数",
		}),
		wsDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_disconnects_total",
			Help:      "WebSocket 断开次数",
		}),

		patternsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "patterns_detected_total",
			Help:      "检测到的交易模式数（按类型）",
		}, []string{"type"}),
		correlationsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "correlations_detected_total",
			Help:      "检测到的事件关联数",
		}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "handler_panics_total",
			Help:      "被隔离的分析回调异常数",
		}),
	}
	return m
}

// RecordOrderCreated 记录订单创建。
func (m *Monitor) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderSubmitted 记录订单提交。
func (m *Monitor) RecordOrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

// RecordOrderTerminal 记录订单到达终态。
func (m *Monitor) RecordOrderTerminal(state string) {
	if m == nil {
		return
	}
	m.ordersTerminal.WithLabelValues(state).Inc()
}

// RecordFillApplied 记录一次成交应用及其耗时与数量。
func (m *Monitor) RecordFillApplied(latencySeconds, volume float64) {
	if m == nil {
		return
	}
	m.fillsApplied.Inc()
	m.fillVolume.Add(volume)
	m.fillApplyLatency.Observe(latencySeconds)
}

// RecordDuplicateFill 记录一次去重丢弃。
func (m *Monitor) RecordDuplicateFill() {
	if m == nil {
		return
	}
	m.duplicateFills.Inc()
}

// RecordUnknownFill 记录一次未知订单成交丢弃。
func (m *Monitor) RecordUnknownFill() {
	if m == nil {
		return
	}
	m.unknownFills.Inc()
}

// RecordOverfill 记录一次超量成交拒绝。
func (m *Monitor) RecordOverfill() {
	if m == nil {
		return
	}
	m.overfillRejects.Inc()
}

// RecordIllegalTransition 记录一次非法转换。
func (m *Monitor) RecordIllegalTransition() {
	if m == nil {
		return
	}
	m.illegalTransits.Inc()
}

// RecordSnapshotApplied 记录一次快照合并。
func (m *Monitor) RecordSnapshotApplied() {
	if m == nil {
		return
	}
	m.snapshotsApplied.Inc()
}

// RecordStaleEnvelope 记录一次过期消息丢弃。
func (m *Monitor) RecordStaleEnvelope() {
	if m == nil {
		return
	}
	m.staleEnvelopes.Inc()
}

// RecordResync 记录一次全量重同步。
func (m *Monitor) RecordResync() {
	if m == nil {
		return
	}
	m.resyncRuns.Inc()
}

// SetWSConnected 更新连接状态。
func (m *Monitor) SetWSConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.wsConnected.Set(1)
		m.wsConnects.Inc()
	} else {
		m.wsConnected.Set(0)
		m.wsDisconnects.Inc()
	}
}

// RecordPattern 记录一次模式检测。
func (m *Monitor) RecordPattern(patternType string) {
	if m == nil {
		return
	}
	m.patternsDetected.WithLabelValues(patternType).Inc()
}

// RecordCorrelation 记录一次事件关联。
func (m *Monitor) RecordCorrelation() {
	if m == nil {
		return
	}
	m.correlationsDetected.Inc()
}

// RecordHandlerPanic 记录一次被隔离的回调异常。
func (m *Monitor) RecordHandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

// Registry 暴露底层registry，供测试与自定义采集使用。
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer 启动Prometheus指标服务器
func (m *Monitor) StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
