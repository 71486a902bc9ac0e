package analytics

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-tracker-go/infrastructure/monitor"
	"order-tracker-go/order"
)

// FillEvent 包装一笔成交，供分析层消费。
type FillEvent struct {
	EventID   string
	Fill      order.Fill
	Timestamp time.Time
	Tags      []string
	Processed bool
}

// HasTag 判断事件是否带某标签。
func (e *FillEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Config 分析引擎配置。所有阈值可热更新。
type Config struct {
	MaxEvents       int // 事件环形缓冲上限
	MaxPatterns     int
	MaxCorrelations int

	PatternDetectionThreshold float64 // 模式置信度下限 [0,1]
	CorrelationThreshold      float64 // 关联得分下限 [0,1]

	TimeTolerance   time.Duration // 关联：时间邻近容差
	PriceTolerance  float64       // 关联：相对价格容差
	VolumeTolerance float64       // 关联：相对数量容差

	AccumulationMinFills int
	AccumulationWindow   time.Duration
	MomentumWindow       time.Duration
	MomentumMinRate      float64 // 每分钟成交数
	IcebergMinFills      int
	IcebergPriceEpsilon  float64 // 相对价格带宽
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxEvents:                 1000,
		MaxPatterns:               200,
		MaxCorrelations:           500,
		PatternDetectionThreshold: 0.6,
		CorrelationThreshold:      0.65,
		TimeTolerance:             5 * time.Second,
		PriceTolerance:            0.001,
		VolumeTolerance:           0.1,
		AccumulationMinFills:      5,
		AccumulationWindow:        5 * time.Minute,
		MomentumWindow:            time.Minute,
		MomentumMinRate:           10,
		IcebergMinFills:           6,
		IcebergPriceEpsilon:       0.0005,
	}
}

// 回调类型。回调中的 panic 会被捕获并记录，绝不向调用方传播。
type (
	EventHandler       func(*FillEvent)
	PatternHandler     func(TradingPattern)
	CorrelationHandler func(EventCorrelation)
)

// EngineStats 引擎累计计数。
type EngineStats struct {
	EventsProcessed      int64
	PatternsDetected     int64
	CorrelationsDetected int64
	HandlerPanics        int64
	Replays              int64
}

// Engine 成交事件分析引擎：有界事件缓冲 + 模式检测 + 事件关联。
// 引擎只读取路由过来的成交，从不回写订单聚合；
// 其任何失败都不影响订单管理器的正确性。
type Engine struct {
	log *zap.Logger
	mon *monitor.Monitor

	mu           sync.RWMutex
	cfg          Config
	detectors    []Detector
	events       []*FillEvent
	patterns     []TradingPattern
	correlations []EventCorrelation
	stats        EngineStats

	eventHandlers       map[string][]EventHandler
	patternHandlers     map[PatternType][]PatternHandler
	correlationHandlers []CorrelationHandler
}

// NewEngine 创建分析引擎，带默认检测器。
func NewEngine(cfg Config, log *zap.Logger, mon *monitor.Monitor) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxEvents <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		log: log,
		mon: mon,
		cfg: cfg,
		detectors: []Detector{
			AccumulationDetector{},
			MomentumBurstDetector{},
			IcebergDetector{},
		},
		events:          make([]*FillEvent, 0, cfg.MaxEvents),
		eventHandlers:   make(map[string][]EventHandler),
		patternHandlers: make(map[PatternType][]PatternHandler),
	}
}

// AddDetector 注册额外的模式检测器。
func (e *Engine) AddDetector(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detectors = append(e.detectors, d)
}

// AddEventHandler 注册事件回调；eventType 匹配事件标签，"*" 匹配全部。
func (e *Engine) AddEventHandler(eventType string, h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventHandlers[eventType] = append(e.eventHandlers[eventType], h)
}

// AddPatternHandler 注册模式回调。
func (e *Engine) AddPatternHandler(t PatternType, h PatternHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patternHandlers[t] = append(e.patternHandlers[t], h)
}

// AddCorrelationHandler 注册关联回调。
func (e *Engine) AddCorrelationHandler(h CorrelationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlationHandlers = append(e.correlationHandlers, h)
}

// ProcessFill 实现 gateway.FillSink。
func (e *Engine) ProcessFill(f order.Fill) {
	e.ProcessFillEvent(f)
}

// ProcessFillEvent 包装成交、入环形缓冲并触发检测与关联。
func (e *Engine) ProcessFillEvent(f order.Fill) *FillEvent {
	ev := e.wrap(f)

	e.mu.Lock()
	e.events = append(e.events, ev)
	if len(e.events) > e.cfg.MaxEvents {
		e.events = e.events[len(e.events)-e.cfg.MaxEvents:]
	}
	cfg := e.cfg
	window := e.events
	patterns := runDetectors(e.detectors, window, ev, cfg)
	correlations := correlate(window, ev, cfg)
	e.storePatternsLocked(patterns)
	e.storeCorrelationsLocked(correlations)
	e.stats.EventsProcessed++
	ev.Processed = true
	e.mu.Unlock()

	e.dispatchEvent(ev)
	for _, p := range patterns {
		e.mon.RecordPattern(string(p.Type))
		e.dispatchPattern(p)
	}
	for _, c := range correlations {
		e.mon.RecordCorrelation()
		e.dispatchCorrelation(c)
	}

	return ev
}

// wrap 生成事件包装与标签。时间戳取自成交本身，保证重放确定性。
func (e *Engine) wrap(f order.Fill) *FillEvent {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tags := []string{
		"fill",
		strings.ToLower(string(f.Side)),
		strings.ToLower(string(f.Type)),
	}
	if f.Pair != "" {
		tags = append(tags, f.Pair)
	}
	return &FillEvent{
		EventID:   uuid.NewString(),
		Fill:      f,
		Timestamp: ts,
		Tags:      tags,
	}
}

func (e *Engine) storePatternsLocked(patterns []TradingPattern) {
	for _, p := range patterns {
		e.patterns = append(e.patterns, p)
		e.stats.PatternsDetected++
	}
	if e.cfg.MaxPatterns > 0 && len(e.patterns) > e.cfg.MaxPatterns {
		e.patterns = e.patterns[len(e.patterns)-e.cfg.MaxPatterns:]
	}
}

func (e *Engine) storeCorrelationsLocked(correlations []EventCorrelation) {
	for _, c := range correlations {
		e.correlations = append(e.correlations, c)
		e.stats.CorrelationsDetected++
	}
	if e.cfg.MaxCorrelations > 0 && len(e.correlations) > e.cfg.MaxCorrelations {
		e.correlations = e.correlations[len(e.correlations)-e.cfg.MaxCorrelations:]
	}
}

// dispatchEvent 调用匹配的事件回调，逐个隔离异常。
func (e *Engine) dispatchEvent(ev *FillEvent) {
	e.mu.RLock()
	var handlers []EventHandler
	handlers = append(handlers, e.eventHandlers["*"]...)
	for tag, hs := range e.eventHandlers {
		if tag != "*" && ev.HasTag(tag) {
			handlers = append(handlers, hs...)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.safeInvoke(func() { h(ev) }, "event")
	}
}

func (e *Engine) dispatchPattern(p TradingPattern) {
	e.mu.RLock()
	handlers := append([]PatternHandler(nil), e.patternHandlers[p.Type]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		e.safeInvoke(func() { h(p) }, "pattern")
	}
}

func (e *Engine) dispatchCorrelation(c EventCorrelation) {
	e.mu.RLock()
	handlers := append([]CorrelationHandler(nil), e.correlationHandlers...)
	e.mu.RUnlock()
	for _, h := range handlers {
		e.safeInvoke(func() { h(c) }, "correlation")
	}
}

// safeInvoke 隔离回调异常：捕获、记录、继续。
func (e *Engine) safeInvoke(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.stats.HandlerPanics++
			e.mu.Unlock()
			e.mon.RecordHandlerPanic()
			e.log.Error("analytics handler panic isolated",
				zap.String("kind", kind), zap.Any("panic", r))
		}
	}()
	fn()
}

// ReplayHistoricalEvents 在时间窗口内确定性重放历史事件。
// 重放在事件窗口的快照副本上进行，与实时缓冲完全隔离；
// 不触发任何回调，只返回检测结果。
func (e *Engine) ReplayHistoricalEvents(start, end time.Time, filter func(*FillEvent) bool) ([]TradingPattern, []EventCorrelation) {
	e.mu.RLock()
	cfg := e.cfg
	detectors := append([]Detector(nil), e.detectors...)
	selected := make([]*FillEvent, 0)
	for _, ev := range e.events {
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		if filter != nil && !filter(ev) {
			continue
		}
		selected = append(selected, ev)
	}
	e.mu.RUnlock()

	var patterns []TradingPattern
	var correlations []EventCorrelation
	window := make([]*FillEvent, 0, len(selected))
	for _, ev := range selected {
		window = append(window, ev)
		if len(window) > cfg.MaxEvents {
			window = window[len(window)-cfg.MaxEvents:]
		}
		patterns = append(patterns, runDetectors(detectors, window, ev, cfg)...)
		correlations = append(correlations, correlate(window, ev, cfg)...)
	}

	e.mu.Lock()
	e.stats.Replays++
	e.mu.Unlock()
	return patterns, correlations
}

// OptimizeForHighFrequency 显式切换到高吞吐配置：
// 收紧缓冲、提高阈值，以降低检测灵敏度换取处理速度。
func (e *Engine) OptimizeForHighFrequency() {
	e.mu.Lock()
	old := e.cfg
	e.cfg.MaxEvents = old.MaxEvents / 2
	if e.cfg.MaxEvents < 100 {
		e.cfg.MaxEvents = 100
	}
	e.cfg.PatternDetectionThreshold = clamp01(old.PatternDetectionThreshold + 0.15)
	e.cfg.CorrelationThreshold = clamp01(old.CorrelationThreshold + 0.15)
	e.cfg.MomentumWindow = old.MomentumWindow / 2
	if len(e.events) > e.cfg.MaxEvents {
		e.events = e.events[len(e.events)-e.cfg.MaxEvents:]
	}
	cur := e.cfg
	e.mu.Unlock()

	e.log.Info("engine reconfigured for high frequency",
		zap.Int("max_events", cur.MaxEvents),
		zap.Float64("pattern_threshold", cur.PatternDetectionThreshold),
		zap.Float64("correlation_threshold", cur.CorrelationThreshold),
		zap.Duration("momentum_window", cur.MomentumWindow),
	)
}

// ApplyConfig 热更新阈值配置（配置热加载入口）。
func (e *Engine) ApplyConfig(cfg Config) {
	e.mu.Lock()
	if cfg.MaxEvents > 0 {
		e.cfg = cfg
		if len(e.events) > e.cfg.MaxEvents {
			e.events = e.events[len(e.events)-e.cfg.MaxEvents:]
		}
	}
	e.mu.Unlock()
	e.log.Info("engine config applied")
}

// GetRecentEvents 返回最近 n 个事件的拷贝。
func (e *Engine) GetRecentEvents(n int) []*FillEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n <= 0 || n > len(e.events) {
		n = len(e.events)
	}
	res := make([]*FillEvent, n)
	copy(res, e.events[len(e.events)-n:])
	return res
}

// GetRecentPatterns 返回已检测模式的拷贝。
func (e *Engine) GetRecentPatterns() []TradingPattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]TradingPattern(nil), e.patterns...)
}

// GetRecentCorrelations 返回已检测关联的拷贝。
func (e *Engine) GetRecentCorrelations() []EventCorrelation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]EventCorrelation(nil), e.correlations...)
}

// GetStats 返回引擎计数。
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Config 返回当前配置。
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// totalVolume 求一组事件的成交量合计。
func totalVolume(events []*FillEvent) decimal.Decimal {
	sum := decimal.Zero
	for _, ev := range events {
		sum = sum.Add(ev.Fill.Volume)
	}
	return sum
}
