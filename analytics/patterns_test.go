package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-tracker-go/order"
)

func eventAt(tradeID, orderID, price, volume string, side order.Side, at time.Time) *FillEvent {
	p, _ := decimal.NewFromString(price)
	v, _ := decimal.NewFromString(volume)
	return &FillEvent{
		EventID: "ev-" + tradeID,
		Fill: order.Fill{
			TradeID: tradeID, OrderID: orderID, Pair: "XBT/USD",
			Side: side, Price: p, Volume: v, Timestamp: at,
		},
		Timestamp: at,
	}
}

func TestAccumulationDetector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccumulationMinFills = 4

	// 同方向、价格单调抬升的连续买入
	var window []*FillEvent
	prices := []string{"50000", "50010", "50020", "50030", "50040", "50050", "50060", "50070"}
	for i, p := range prices {
		window = append(window, eventAt(tid(i), "O-1", p, "0.1", order.SideBuy, baseTime.Add(time.Duration(i)*time.Second)))
	}
	latest := window[len(window)-1]

	p := AccumulationDetector{}.Detect(window, latest, cfg)
	require.NotNil(t, p)
	assert.Equal(t, PatternAccumulation, p.Type)
	assert.Equal(t, order.SideBuy, p.Side)
	assert.Equal(t, 8, p.FillCount)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9) // 完全一致 + 数量饱和
	assert.Equal(t, latest.Timestamp, p.DetectedAt)
	assert.True(t, p.TotalVolume.Equal(decimal.RequireFromString("0.8")))
}

func TestAccumulationRequiresMinFills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccumulationMinFills = 5

	var window []*FillEvent
	for i := 0; i < 4; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.1", order.SideBuy, baseTime.Add(time.Duration(i)*time.Second)))
	}
	p := AccumulationDetector{}.Detect(window, window[len(window)-1], cfg)
	assert.Nil(t, p)
}

func TestAccumulationIgnoresOppositeSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccumulationMinFills = 3

	var window []*FillEvent
	for i := 0; i < 4; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.1", order.SideSell, baseTime.Add(time.Duration(i)*time.Second)))
	}
	// 最新事件是买入，窗口里全是卖出
	latest := eventAt("T-99", "O-2", "50000", "0.1", order.SideBuy, baseTime.Add(10*time.Second))
	window = append(window, latest)

	p := AccumulationDetector{}.Detect(window, latest, cfg)
	assert.Nil(t, p)
}

func TestMomentumBurstDetector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MomentumWindow = time.Minute
	cfg.MomentumMinRate = 10

	var window []*FillEvent
	for i := 0; i < 20; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.05", order.SideBuy, baseTime.Add(time.Duration(i)*time.Second)))
	}
	latest := window[len(window)-1]

	p := MomentumBurstDetector{}.Detect(window, latest, cfg)
	require.NotNil(t, p)
	assert.Equal(t, PatternMomentumBurst, p.Type)
	assert.InDelta(t, 20.0, p.Strength, 1e-9) // 每分钟 20 笔
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestMomentumBurstBelowRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MomentumWindow = time.Minute
	cfg.MomentumMinRate = 10

	var window []*FillEvent
	for i := 0; i < 5; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.05", order.SideBuy, baseTime.Add(time.Duration(i)*10*time.Second)))
	}
	p := MomentumBurstDetector{}.Detect(window, window[len(window)-1], cfg)
	assert.Nil(t, p)
}

func TestIcebergDetector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IcebergMinFills = 3
	cfg.IcebergPriceEpsilon = 0.0005

	// 同一价位反复出现的等量小单
	var window []*FillEvent
	for i := 0; i < 6; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.25", order.SideSell, baseTime.Add(time.Duration(i)*time.Second)))
	}
	latest := window[len(window)-1]

	p := IcebergDetector{}.Detect(window, latest, cfg)
	require.NotNil(t, p)
	assert.Equal(t, PatternIceberg, p.Type)
	assert.Equal(t, 6, p.FillCount)
	assert.InDelta(t, 1.0, p.Strength, 1e-9) // 数量完全均匀
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestIcebergSkipsScatteredPrices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IcebergMinFills = 4
	cfg.IcebergPriceEpsilon = 0.0001

	prices := []string{"50000", "51000", "52000", "53000", "54000"}
	var window []*FillEvent
	for i, pr := range prices {
		window = append(window, eventAt(tid(i), "O-1", pr, "0.25", order.SideSell, baseTime.Add(time.Duration(i)*time.Second)))
	}
	p := IcebergDetector{}.Detect(window, window[len(window)-1], cfg)
	assert.Nil(t, p)
}

func TestPatternIDDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccumulationMinFills = 3

	var window []*FillEvent
	for i := 0; i < 5; i++ {
		window = append(window, eventAt(tid(i), "O-1", "50000", "0.1", order.SideBuy, baseTime.Add(time.Duration(i)*time.Second)))
	}
	latest := window[len(window)-1]

	p1 := AccumulationDetector{}.Detect(window, latest, cfg)
	p2 := AccumulationDetector{}.Detect(window, latest, cfg)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	assert.Equal(t, p1.PatternID, p2.PatternID)
	assert.Equal(t, p1, p2)
}

func TestCorrelateAcrossOrders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationThreshold = 0.65

	a := eventAt("T-1", "O-1", "50000", "0.5", order.SideBuy, baseTime)
	b := eventAt("T-2", "O-2", "50001", "0.5", order.SideSell, baseTime.Add(2*time.Second))
	window := []*FillEvent{a, b}

	out := correlate(window, b, cfg)
	require.Len(t, out, 1)
	c := out[0]
	// 时间、价格、数量三个维度全部命中
	assert.Equal(t, CorrelationComposite, c.Type)
	assert.InDelta(t, 1.0, c.Score, 1e-9)
	assert.Equal(t, [2]string{"T-1", "T-2"}, c.TradeIDs)
	assert.Equal(t, "corr:T-1:T-2", c.CorrelationID)
}

func TestCorrelateSkipsSameOrder(t *testing.T) {
	cfg := DefaultConfig()
	a := eventAt("T-1", "O-1", "50000", "0.5", order.SideBuy, baseTime)
	b := eventAt("T-2", "O-1", "50000", "0.5", order.SideBuy, baseTime.Add(time.Second))

	out := correlate([]*FillEvent{a, b}, b, cfg)
	assert.Empty(t, out)
}

func TestCorrelateBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationThreshold = 0.65

	// 只有时间维度邻近：1/3 < 0.65
	a := eventAt("T-1", "O-1", "50000", "0.5", order.SideBuy, baseTime)
	b := eventAt("T-2", "O-2", "60000", "5.0", order.SideSell, baseTime.Add(time.Second))

	out := correlate([]*FillEvent{a, b}, b, cfg)
	assert.Empty(t, out)
}
