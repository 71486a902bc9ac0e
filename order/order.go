package order

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Transition 记录一次状态转换。只追加，构造后不可变。
type Transition struct {
	From         State
	To           State
	Event        Event
	Timestamp    time.Time
	Reason       string
	ExchangeData map[string]interface{}
}

// Fill 一笔离散成交。以 TradeID 唯一标识，构造后不可变。
type Fill struct {
	TradeID     string
	OrderID     string
	Pair        string
	Side        Side
	Price       decimal.Decimal
	Volume      decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
	Type        FillType
}

// Order 单个订单的完整生命周期视图。
// 所有状态变更只能通过 TransitionTo / ApplyFill 进入，内部互斥锁
// 保证同一订单的变更串行化；不同订单之间可以并发。
type Order struct {
	ID            string
	ClientOrderID string
	VenueOrderID  string

	Pair   string
	Side   Side
	Type   Type
	Volume decimal.Decimal
	Price  decimal.Decimal // 市价单为零值

	State          State
	VolumeExecuted decimal.Decimal
	AvgFillPrice   decimal.Decimal
	TotalFees      decimal.Decimal
	FillCount      int

	CreatedAt   time.Time
	SubmittedAt time.Time
	FirstFillAt time.Time
	LastFillAt  time.Time
	CompletedAt time.Time

	History []Transition

	mu sync.Mutex
}

// newOrder 仅供 Manager 调用；订单总是从 PENDING_NEW 开始。
func newOrder(id string, req CreationRequest, now time.Time) *Order {
	return &Order{
		ID:             id,
		ClientOrderID:  req.ClientOrderID,
		Pair:           req.Pair,
		Side:           req.Side,
		Type:           req.Type,
		Volume:         req.Volume,
		Price:          req.Price,
		State:          StatePendingNew,
		VolumeExecuted: decimal.Zero,
		AvgFillPrice:   decimal.Zero,
		TotalFees:      decimal.Zero,
		CreatedAt:      now,
		History:        make([]Transition, 0, 8),
	}
}

// TransitionTo 校验并执行一次状态转换。非法转换返回 false 且不改动任何字段。
// 这是 State 字段唯一的变更入口。
func (o *Order) TransitionTo(to State, event Event, reason string, exchangeData map[string]interface{}) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(to, event, reason, exchangeData)
}

func (o *Order) transitionLocked(to State, event Event, reason string, exchangeData map[string]interface{}) bool {
	next, ok := machine.NextState(o.State, event)
	if !ok || next != to {
		return false
	}

	now := time.Now().UTC()
	o.History = append(o.History, Transition{
		From:         o.State,
		To:           to,
		Event:        event,
		Timestamp:    now,
		Reason:       reason,
		ExchangeData: exchangeData,
	})

	if event == EventSubmit && o.SubmittedAt.IsZero() {
		o.SubmittedAt = now
	}
	o.State = to
	if IsTerminal(to) && o.CompletedAt.IsZero() {
		o.CompletedAt = now
	}
	return true
}

// ApplyFill 应用一笔成交并返回具体失败原因。
// 超量成交（累计执行量将超过订单量）视为对账差错，直接拒绝而不是截断。
func (o *Order) ApplyFill(volume, price, fee decimal.Decimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if IsTerminal(o.State) {
		return ErrTerminalOrder
	}
	if volume.Sign() <= 0 {
		return ErrInvalidFill
	}
	newExecuted := o.VolumeExecuted.Add(volume)
	if newExecuted.GreaterThan(o.Volume) {
		return ErrOverfill
	}

	event, target := EventPartialFill, StatePartiallyFilled
	if newExecuted.Equal(o.Volume) {
		event, target = EventFullFill, StateFilled
	}
	if !o.transitionLocked(target, event, "", nil) {
		return ErrInvalidTransition
	}

	// 增量加权平均：new_avg = (old_avg*old_exec + price*vol) / new_exec
	notional := o.AvgFillPrice.Mul(o.VolumeExecuted).Add(price.Mul(volume))
	o.AvgFillPrice = notional.Div(newExecuted)
	o.VolumeExecuted = newExecuted
	o.TotalFees = o.TotalFees.Add(fee)
	o.FillCount++

	now := time.Now().UTC()
	if o.FirstFillAt.IsZero() {
		o.FirstFillAt = now
	}
	o.LastFillAt = now
	return nil
}

// HandleFill 是 ApplyFill 的布尔外观，供不关心具体原因的调用方使用。
func (o *Order) HandleFill(volume, price, fee decimal.Decimal) bool {
	return o.ApplyFill(volume, price, fee) == nil
}

// CurrentState 返回当前状态。
func (o *Order) CurrentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.State
}

// RemainingVolume 返回未成交数量。
func (o *Order) RemainingVolume() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Volume.Sub(o.VolumeExecuted)
}

// CanBeCanceled 仅活跃状态可撤。
func (o *Order) CanBeCanceled() bool {
	return IsActive(o.CurrentState())
}

// CanBeModified 仅活跃状态可改。
func (o *Order) CanBeModified() bool {
	return IsActive(o.CurrentState())
}

// SetVenueOrderID 记录交易所分配的订单号。
func (o *Order) SetVenueOrderID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.VenueOrderID = id
}

// ExecutionSummary 订单执行情况的只读投影。
type ExecutionSummary struct {
	ID             string
	ClientOrderID  string
	VenueOrderID   string
	Pair           string
	Side           Side
	Type           Type
	State          State
	Volume         decimal.Decimal
	VolumeExecuted decimal.Decimal
	FillPercent    decimal.Decimal
	AvgFillPrice   decimal.Decimal
	TotalFees      decimal.Decimal
	FillCount      int
	CreatedAt      time.Time
	SubmittedAt    time.Time
	FirstFillAt    time.Time
	LastFillAt     time.Time
	CompletedAt    time.Time
}

// GetExecutionSummary 返回当前执行情况快照。
func (o *Order) GetExecutionSummary() ExecutionSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	fillPct := decimal.Zero
	if o.Volume.Sign() > 0 {
		fillPct = o.VolumeExecuted.Div(o.Volume).Mul(decimal.NewFromInt(100))
	}
	return ExecutionSummary{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		VenueOrderID:   o.VenueOrderID,
		Pair:           o.Pair,
		Side:           o.Side,
		Type:           o.Type,
		State:          o.State,
		Volume:         o.Volume,
		VolumeExecuted: o.VolumeExecuted,
		FillPercent:    fillPct,
		AvgFillPrice:   o.AvgFillPrice,
		TotalFees:      o.TotalFees,
		FillCount:      o.FillCount,
		CreatedAt:      o.CreatedAt,
		SubmittedAt:    o.SubmittedAt,
		FirstFillAt:    o.FirstFillAt,
		LastFillAt:     o.LastFillAt,
		CompletedAt:    o.CompletedAt,
	}
}

// GetStateTimeline 返回转换历史的拷贝，供审计查询。
func (o *Order) GetStateTimeline() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	timeline := make([]Transition, len(o.History))
	copy(timeline, o.History)
	return timeline
}
