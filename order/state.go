package order

// State represents the canonical order lifecycle state.
type State string

const (
	StatePendingNew      State = "PENDING_NEW"      // 本地已创建，尚未提交
	StatePendingSubmit   State = "PENDING_SUBMIT"   // 已发送，等待交易所确认
	StateOpen            State = "OPEN"             // 交易所已挂单
	StatePartiallyFilled State = "PARTIALLY_FILLED" // 部分成交
	StateFilled          State = "FILLED"           // 完全成交（终态）
	StateCanceled        State = "CANCELED"         // 已撤销（终态）
	StateRejected        State = "REJECTED"         // 被拒绝（终态）
	StateExpired         State = "EXPIRED"          // 已过期（终态）
	StateFailed          State = "FAILED"           // 失败（终态）
)

// Event triggers a lifecycle transition.
type Event string

const (
	EventSubmit        Event = "SUBMIT"
	EventConfirm       Event = "CONFIRM"
	EventPartialFill   Event = "PARTIAL_FILL"
	EventFullFill      Event = "FULL_FILL"
	EventCancelRequest Event = "CANCEL_REQUEST"
	EventCancelConfirm Event = "CANCEL_CONFIRM"
	EventReject        Event = "REJECT"
	EventExpire        Event = "EXPIRE"
	EventFail          Event = "FAIL"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is the venue order type.
type Type string

const (
	TypeMarket        Type = "MARKET"
	TypeLimit         Type = "LIMIT"
	TypeStopLoss      Type = "STOP_LOSS"
	TypeTakeProfit    Type = "TAKE_PROFIT"
	TypeStopLossLimit Type = "STOP_LOSS_LIMIT"
	TypeConditional   Type = "CONDITIONAL"
	TypeOCO           Type = "OCO"
	TypeIceberg       Type = "ICEBERG"
)

// RequiresPrice 返回该订单类型是否必须携带限价。
func (t Type) RequiresPrice() bool {
	switch t {
	case TypeLimit, TypeStopLoss, TypeTakeProfit, TypeStopLossLimit, TypeConditional, TypeOCO, TypeIceberg:
		return true
	default:
		return false
	}
}

// FillType 标记成交的流动性角色。
type FillType string

const (
	FillMaker FillType = "MAKER"
	FillTaker FillType = "TAKER"
)
