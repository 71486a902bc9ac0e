package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"order-tracker-go/order"
)

// ErrUnknownStatus 表示交易所状态词汇无法映射到内部状态集。
// 未识别的状态必须显式失败，绝不能默默落到某个默认状态。
var ErrUnknownStatus = errors.New("unknown venue order status")

// MapStatus 把交易所状态词汇映射到内部 OrderState。
// executed 用于区分 open 与部分成交：交易所通常只报 "open"。
// 交易所词汇不允许泄漏出网关层。
func MapStatus(status string, executed decimal.Decimal) (order.State, error) {
	switch strings.ToLower(status) {
	case "pending":
		return order.StatePendingSubmit, nil
	case "open":
		if executed.Sign() > 0 {
			return order.StatePartiallyFilled, nil
		}
		return order.StateOpen, nil
	case "closed", "filled":
		return order.StateFilled, nil
	case "canceled", "cancelled":
		return order.StateCanceled, nil
	case "rejected":
		return order.StateRejected, nil
	case "expired":
		return order.StateExpired, nil
	default:
		return "", fmt.Errorf("map status %q: %w", status, ErrUnknownStatus)
	}
}

// MapSide 映射买卖方向。
func MapSide(side string) (order.Side, error) {
	switch strings.ToLower(side) {
	case "buy", "b":
		return order.SideBuy, nil
	case "sell", "s":
		return order.SideSell, nil
	default:
		return "", fmt.Errorf("map side %q: %w", side, ErrUnknownStatus)
	}
}

// MapFillType 映射 maker/taker 标记；缺省按 taker。
func MapFillType(orderType string) order.FillType {
	if strings.EqualFold(orderType, "maker") || strings.EqualFold(orderType, "limit") {
		return order.FillMaker
	}
	return order.FillTaker
}
