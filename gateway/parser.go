package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope 对应交易所推送的批量包装：带序号的通道消息。
type Envelope struct {
	Seq     int64           `json:"seq"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// 消息通道名。
const (
	ChannelOpenOrders = "openOrders"
	ChannelOwnTrades  = "ownTrades"
	ChannelHeartbeat  = "heartbeat"
)

// OrderSnapshotMsg 交易所上报的订单快照（数值字段为十进制字符串）。
type OrderSnapshotMsg struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Volume         string `json:"volume"`
	VolumeExecuted string `json:"volume_executed"`
	Cost           string `json:"cost"`
	Fee            string `json:"fee"`
	Price          string `json:"price"`
	Descr          struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
}

// FillMsg 交易所上报的成交记录。
type FillMsg struct {
	TradeID     string  `json:"trade_id"`
	OrderID     string  `json:"order_id"`
	Pair        string  `json:"pair"`
	Time        float64 `json:"time"` // unix 秒（可带小数）
	Side        string  `json:"side"`
	OrderType   string  `json:"order_type"`
	Price       string  `json:"price"`
	Volume      string  `json:"volume"`
	Fee         string  `json:"fee"`
	FeeCurrency string  `json:"fee_currency"`
}

// ParseEnvelope 解析通道包装。
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Channel == "" {
		return env, fmt.Errorf("parse envelope: missing channel")
	}
	return env, nil
}

// ParseOrderSnapshots 解析 openOrders 通道的快照批次。
func ParseOrderSnapshots(data json.RawMessage) ([]OrderSnapshotMsg, error) {
	var msgs []OrderSnapshotMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse order snapshots: %w", err)
	}
	return msgs, nil
}

// ParseFills 解析 ownTrades 通道的成交批次。
func ParseFills(data json.RawMessage) ([]FillMsg, error) {
	var msgs []FillMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse fills: %w", err)
	}
	return msgs, nil
}

// parseDecimal 在边界处把十进制字符串转为 decimal；空串按零处理。
func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// unixTime 把 unix 秒（float）转为 time.Time。
func unixTime(sec float64) time.Time {
	s, frac := math.Modf(sec)
	return time.Unix(int64(s), int64(frac*1e9)).UTC()
}
