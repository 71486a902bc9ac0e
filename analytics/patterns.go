package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"order-tracker-go/order"
)

// PatternType 模式类型。
type PatternType string

const (
	PatternAccumulation  PatternType = "accumulation"   // 同方向持续吸筹
	PatternMomentumBurst PatternType = "momentum_burst" // 短窗口内成交速率激增
	PatternIceberg       PatternType = "iceberg"        // 同价位反复小单成交
)

// TradingPattern 检测到的行为模式。
// PatternID 仅由窗口内容派生，对相同输入重放必得相同 ID。
type TradingPattern struct {
	PatternID   string
	Type        PatternType
	Pair        string
	Side        order.Side
	Confidence  float64 // [0,1]
	Strength    float64
	TotalVolume decimal.Decimal
	FillCount   int
	FillIDs     []string
	DetectedAt  time.Time // 取窗口内最新事件时间，不取墙钟
}

// Detector 模式检测器。Detect 必须是窗口内容的纯函数：
// 不读墙钟、不持内部状态，未命中返回 nil。
type Detector interface {
	Name() string
	Detect(window []*FillEvent, latest *FillEvent, cfg Config) *TradingPattern
}

// runDetectors 依次运行检测器，按置信度下限过滤。
func runDetectors(detectors []Detector, window []*FillEvent, latest *FillEvent, cfg Config) []TradingPattern {
	var out []TradingPattern
	for _, d := range detectors {
		p := d.Detect(window, latest, cfg)
		if p != nil && p.Confidence >= cfg.PatternDetectionThreshold {
			out = append(out, *p)
		}
	}
	return out
}

// patternID 由类型与窗口内容派生确定性标识。
func patternID(t PatternType, fills []*FillEvent) string {
	last := fills[len(fills)-1]
	return fmt.Sprintf("%s:%s:%s:%d", t, last.Fill.Pair, last.Fill.TradeID, len(fills))
}

// AccumulationDetector 检测同一交易对同一方向在时间窗口内的持续吸筹。
type AccumulationDetector struct{}

func (AccumulationDetector) Name() string { return "accumulation" }

func (AccumulationDetector) Detect(window []*FillEvent, latest *FillEvent, cfg Config) *TradingPattern {
	cutoff := latest.Timestamp.Add(-cfg.AccumulationWindow)
	var run []*FillEvent
	for _, ev := range window {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if ev.Fill.Pair != latest.Fill.Pair || ev.Fill.Side != latest.Fill.Side {
			continue
		}
		run = append(run, ev)
	}
	if len(run) < cfg.AccumulationMinFills {
		return nil
	}

	// 价格方向一致性：同向相邻价差占比
	directional := 0
	for i := 1; i < len(run); i++ {
		diff := run[i].Fill.Price.Sub(run[i-1].Fill.Price)
		if latest.Fill.Side == order.SideBuy && diff.Sign() >= 0 {
			directional++
		}
		if latest.Fill.Side == order.SideSell && diff.Sign() <= 0 {
			directional++
		}
	}
	consistency := float64(directional) / float64(len(run)-1)
	density := math.Min(1, float64(len(run))/float64(2*cfg.AccumulationMinFills))
	confidence := consistency * density

	return &TradingPattern{
		PatternID:   patternID(PatternAccumulation, run),
		Type:        PatternAccumulation,
		Pair:        latest.Fill.Pair,
		Side:        latest.Fill.Side,
		Confidence:  confidence,
		Strength:    consistency,
		TotalVolume: totalVolume(run),
		FillCount:   len(run),
		FillIDs:     tradeIDs(run),
		DetectedAt:  latest.Timestamp,
	}
}

// MomentumBurstDetector 检测短窗口内成交速率激增。
type MomentumBurstDetector struct{}

func (MomentumBurstDetector) Name() string { return "momentum_burst" }

func (MomentumBurstDetector) Detect(window []*FillEvent, latest *FillEvent, cfg Config) *TradingPattern {
	if cfg.MomentumWindow <= 0 {
		return nil
	}
	cutoff := latest.Timestamp.Add(-cfg.MomentumWindow)
	var burst []*FillEvent
	for _, ev := range window {
		if ev.Timestamp.Before(cutoff) || ev.Fill.Pair != latest.Fill.Pair {
			continue
		}
		burst = append(burst, ev)
	}
	if len(burst) < 2 {
		return nil
	}
	rate := float64(len(burst)) / cfg.MomentumWindow.Minutes()
	if rate < cfg.MomentumMinRate {
		return nil
	}
	confidence := math.Min(1, rate/(2*cfg.MomentumMinRate))

	return &TradingPattern{
		PatternID:   patternID(PatternMomentumBurst, burst),
		Type:        PatternMomentumBurst,
		Pair:        latest.Fill.Pair,
		Side:        latest.Fill.Side,
		Confidence:  confidence,
		Strength:    rate,
		TotalVolume: totalVolume(burst),
		FillCount:   len(burst),
		FillIDs:     tradeIDs(burst),
		DetectedAt:  latest.Timestamp,
	}
}

// IcebergDetector 检测同一价位附近反复出现的小额成交（冰山单切片特征）。
type IcebergDetector struct{}

func (IcebergDetector) Name() string { return "iceberg" }

func (IcebergDetector) Detect(window []*FillEvent, latest *FillEvent, cfg Config) *TradingPattern {
	if latest.Fill.Price.IsZero() {
		return nil
	}
	band := latest.Fill.Price.Mul(decimal.NewFromFloat(cfg.IcebergPriceEpsilon))
	var slice []*FillEvent
	for _, ev := range window {
		if ev.Fill.Pair != latest.Fill.Pair || ev.Fill.Side != latest.Fill.Side {
			continue
		}
		if ev.Fill.Price.Sub(latest.Fill.Price).Abs().GreaterThan(band) {
			continue
		}
		slice = append(slice, ev)
	}
	if len(slice) < cfg.IcebergMinFills {
		return nil
	}

	// 切片数量均匀性：数量越接近，越像机械切片
	avg := totalVolume(slice).Div(decimal.NewFromInt(int64(len(slice))))
	uniform := 0
	for _, ev := range slice {
		if avg.IsZero() {
			continue
		}
		dev, _ := ev.Fill.Volume.Sub(avg).Abs().Div(avg).Float64()
		if dev <= 0.25 {
			uniform++
		}
	}
	uniformity := float64(uniform) / float64(len(slice))
	density := math.Min(1, float64(len(slice))/float64(2*cfg.IcebergMinFills))
	confidence := uniformity * density

	return &TradingPattern{
		PatternID:   patternID(PatternIceberg, slice),
		Type:        PatternIceberg,
		Pair:        latest.Fill.Pair,
		Side:        latest.Fill.Side,
		Confidence:  confidence,
		Strength:    uniformity,
		TotalVolume: totalVolume(slice),
		FillCount:   len(slice),
		FillIDs:     tradeIDs(slice),
		DetectedAt:  latest.Timestamp,
	}
}

func tradeIDs(events []*FillEvent) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.Fill.TradeID)
	}
	return ids
}
