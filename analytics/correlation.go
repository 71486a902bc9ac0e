package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CorrelationType 关联维度。
type CorrelationType string

const (
	CorrelationTemporal  CorrelationType = "temporal"
	CorrelationPrice     CorrelationType = "price"
	CorrelationVolume    CorrelationType = "volume"
	CorrelationComposite CorrelationType = "composite" // 命中两个及以上维度
)

// EventCorrelation 跨订单成交事件的关联记录。
// CorrelationID 由两个事件标识派生，重放时保持稳定。
type EventCorrelation struct {
	CorrelationID string
	Type          CorrelationType
	EventIDs      [2]string
	TradeIDs      [2]string
	Score         float64 // 命中维度数 / 3
}

// correlate 将最新事件与窗口内其它订单的成交做两两比对。
// 只比较不同订单的成交，维度：时间邻近、价格邻近、数量邻近。
func correlate(window []*FillEvent, latest *FillEvent, cfg Config) []EventCorrelation {
	var out []EventCorrelation
	for _, other := range window {
		if other == latest || other.Fill.OrderID == latest.Fill.OrderID {
			continue
		}

		hits := 0
		var primary CorrelationType

		dt := latest.Timestamp.Sub(other.Timestamp)
		if dt < 0 {
			dt = -dt
		}
		if dt <= cfg.TimeTolerance {
			hits++
			primary = CorrelationTemporal
		}
		if withinRelative(latest.Fill.Price, other.Fill.Price, cfg.PriceTolerance) {
			hits++
			if primary == "" {
				primary = CorrelationPrice
			}
		}
		if withinRelative(latest.Fill.Volume, other.Fill.Volume, cfg.VolumeTolerance) {
			hits++
			if primary == "" {
				primary = CorrelationVolume
			}
		}

		score := float64(hits) / 3
		if score < cfg.CorrelationThreshold {
			continue
		}
		ctype := primary
		if hits >= 2 {
			ctype = CorrelationComposite
		}
		out = append(out, EventCorrelation{
			CorrelationID: fmt.Sprintf("corr:%s:%s", other.Fill.TradeID, latest.Fill.TradeID),
			Type:          ctype,
			EventIDs:      [2]string{other.EventID, latest.EventID},
			TradeIDs:      [2]string{other.Fill.TradeID, latest.Fill.TradeID},
			Score:         score,
		})
	}
	return out
}

// withinRelative 判断两个数是否落在相对容差内，基准取二者较大值。
func withinRelative(a, b decimal.Decimal, tol float64) bool {
	base := a
	if b.GreaterThan(base) {
		base = b
	}
	if base.IsZero() {
		return a.Equal(b)
	}
	dev, _ := a.Sub(b).Abs().Div(base).Float64()
	return dev <= tol
}
