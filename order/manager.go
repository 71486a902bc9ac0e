package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-tracker-go/infrastructure/monitor"
)

// Gateway 提供下单/撤单抽象；调用方通过 ctx 携带超时。
// 超时只向调用者报告，不改变本地订单状态——后续对账快照才是权威结论。
type Gateway interface {
	Place(ctx context.Context, o *Order) (venueOrderID string, err error)
	Cancel(ctx context.Context, venueOrderID string) error
}

// CreationRequest 创建订单的入参。
type CreationRequest struct {
	Pair          string
	Side          Side
	Type          Type
	Volume        decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// VenueSnapshot 交易所上报的订单快照，已在网关边界映射为内部状态词汇。
// VolumeExecuted / Cost / Fee 均为累计值，而不是增量。
type VenueSnapshot struct {
	OrderID        string
	State          State
	Volume         decimal.Decimal
	VolumeExecuted decimal.Decimal
	Cost           decimal.Decimal
	Fee            decimal.Decimal
	Price          decimal.Decimal
}

// Statistics 管理器累计计数。
type Statistics struct {
	OrdersCreated       int64
	OrdersSubmitted     int64
	OrdersFilled        int64
	OrdersCanceled      int64
	OrdersRejected      int64
	OrdersExpired       int64
	OrdersFailed        int64
	FillsApplied        int64
	SnapshotsApplied    int64
	UnknownFillsDropped int64
	IllegalTransitions  int64
	OverfillsRejected   int64
}

// Manager 维护权威的订单注册表并通过 Gateway 下发请求。
// 注册表自身用读写锁保护；单个订单的变更由订单内部的互斥锁串行化。
type Manager struct {
	gw  Gateway
	log *zap.Logger
	mon *monitor.Monitor

	mu          sync.RWMutex
	orders      map[string]*Order
	constraints map[string]PairConstraints
	stats       Statistics
}

// NewManager 创建订单管理器。gw/mon 均可为 nil（纯跟踪模式，不主动下单）。
func NewManager(gw Gateway, log *zap.Logger, mon *monitor.Monitor) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		gw:     gw,
		log:    log,
		mon:    mon,
		orders: make(map[string]*Order),
	}
}

// CreateOrder 校验请求并登记新订单（PENDING_NEW）。这是订单进入注册表的唯一入口。
func (m *Manager) CreateOrder(req CreationRequest) (*Order, error) {
	if req.Pair == "" {
		return nil, fmt.Errorf("validate creation request: pair is required")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("validate creation request: invalid side %q", req.Side)
	}
	if req.Type == "" {
		req.Type = TypeLimit
	}
	if req.Volume.Sign() <= 0 {
		return nil, fmt.Errorf("validate creation request: volume must be > 0")
	}
	if req.Type.RequiresPrice() && req.Price.Sign() <= 0 {
		return nil, fmt.Errorf("validate creation request: price is required for %s orders", req.Type)
	}
	if err := m.validateConstraint(req); err != nil {
		return nil, err
	}

	id := req.ClientOrderID
	if id == "" {
		id = generateID("ord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[id]; exists {
		return nil, fmt.Errorf("create order %s: %w", id, ErrDuplicateOrder)
	}
	o := newOrder(id, req, time.Now().UTC())
	m.orders[id] = o
	m.stats.OrdersCreated++
	m.mon.RecordOrderCreated()

	m.log.Info("order created",
		zap.String("order_id", id),
		zap.String("pair", req.Pair),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("volume", req.Volume.String()),
		zap.String("price", req.Price.String()),
	)
	return o, nil
}

// SubmitOrder 将订单提交到交易所。超时或传输错误原样上抛，
// 订单停留在 PENDING_SUBMIT，由后续快照对账裁定最终结果。
func (m *Manager) SubmitOrder(ctx context.Context, id string) error {
	o, ok := m.GetOrder(id)
	if !ok {
		return ErrUnknownOrder
	}
	if !o.TransitionTo(StatePendingSubmit, EventSubmit, "", nil) {
		m.countIllegalTransition(id, StatePendingSubmit, EventSubmit)
		return fmt.Errorf("submit order %s from %s: %w", id, o.CurrentState(), ErrInvalidTransition)
	}
	m.mu.Lock()
	m.stats.OrdersSubmitted++
	m.mu.Unlock()
	m.mon.RecordOrderSubmitted()

	if m.gw == nil {
		return nil
	}
	venueID, err := m.gw.Place(ctx, o)
	if err != nil {
		m.log.Warn("order placement unresolved, awaiting reconciliation",
			zap.String("order_id", id), zap.Error(err))
		return fmt.Errorf("place order %s: %w", id, err)
	}
	o.SetVenueOrderID(venueID)
	return nil
}

// RequestCancel 发出撤单请求。撤销确认由回报流推进，这里只记录请求事件。
func (m *Manager) RequestCancel(ctx context.Context, id string) error {
	o, ok := m.GetOrder(id)
	if !ok {
		return ErrUnknownOrder
	}
	if !o.CanBeCanceled() {
		return fmt.Errorf("cancel order %s in state %s: %w", id, o.CurrentState(), ErrInvalidTransition)
	}
	o.TransitionTo(o.CurrentState(), EventCancelRequest, "cancel requested", nil)

	if m.gw == nil {
		return nil
	}
	venueID := o.VenueOrderID
	if venueID == "" {
		venueID = id
	}
	if err := m.gw.Cancel(ctx, venueID); err != nil {
		m.log.Warn("cancel request unresolved, awaiting reconciliation",
			zap.String("order_id", id), zap.Error(err))
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	return nil
}

// SyncOrderFromSnapshot 将交易所快照合并进本地状态。幂等：
// 成交量与手续费按累计值做差后应用，重复快照不会重复计数。
// 返回本地状态是否发生了变化。
func (m *Manager) SyncOrderFromSnapshot(snap VenueSnapshot) (bool, error) {
	o, ok := m.GetOrder(snap.OrderID)
	if !ok {
		m.log.Warn("snapshot for unknown order dropped", zap.String("order_id", snap.OrderID))
		return false, ErrUnknownOrder
	}

	if IsTerminal(o.CurrentState()) {
		// 终态订单不可变，快照重放属预期情况
		m.log.Warn("snapshot for terminal order ignored",
			zap.String("order_id", snap.OrderID),
			zap.String("state", string(o.CurrentState())))
		return false, nil
	}

	changed := false

	// 快照说明订单已到达交易所；本地还在 PENDING_NEW 时先补提交事件，
	// 否则成交差值无处落地
	if o.CurrentState() == StatePendingNew && snap.State != StatePendingNew {
		if o.TransitionTo(StatePendingSubmit, EventSubmit, "snapshot reconciliation", nil) {
			changed = true
		}
	}

	// 1. 成交量对账：只应用累计差值
	summary := o.GetExecutionSummary()
	volumeDelta := snap.VolumeExecuted.Sub(summary.VolumeExecuted)
	switch {
	case volumeDelta.Sign() > 0:
		fillPrice := m.deriveFillPrice(snap, summary, volumeDelta)
		feeDelta := snap.Fee.Sub(summary.TotalFees)
		if feeDelta.Sign() < 0 {
			feeDelta = decimal.Zero
		}
		if err := o.ApplyFill(volumeDelta, fillPrice, feeDelta); err != nil {
			m.recordFillError(o, err)
			return changed, fmt.Errorf("sync order %s: apply volume delta: %w", snap.OrderID, err)
		}
		m.mu.Lock()
		m.stats.FillsApplied++
		m.mu.Unlock()
		changed = true
	case volumeDelta.Sign() < 0:
		// 本地比交易所多：严重对账差错，上报但不回滚
		m.log.Error("local executed volume exceeds venue snapshot",
			zap.String("order_id", snap.OrderID),
			zap.String("local", summary.VolumeExecuted.String()),
			zap.String("venue", snap.VolumeExecuted.String()))
	}

	// 2. 状态对账：把快照状态翻译成事件序列逐步推进
	if stepped := m.stepToState(o, snap.State); stepped {
		changed = true
	}

	m.mu.Lock()
	m.stats.SnapshotsApplied++
	m.mu.Unlock()

	if IsTerminal(o.CurrentState()) {
		m.countTerminal(o.CurrentState())
	}
	return changed, nil
}

// deriveFillPrice 从累计成交金额差推导本次对账应用的成交均价；
// 无法推导时退回快照价格。
func (m *Manager) deriveFillPrice(snap VenueSnapshot, summary ExecutionSummary, volumeDelta decimal.Decimal) decimal.Decimal {
	localCost := summary.AvgFillPrice.Mul(summary.VolumeExecuted)
	costDelta := snap.Cost.Sub(localCost)
	if costDelta.Sign() > 0 {
		return costDelta.Div(volumeDelta)
	}
	if snap.Price.Sign() > 0 {
		return snap.Price
	}
	return summary.AvgFillPrice
}

// syncStep 是快照状态对账展开出的单步转换。
type syncStep struct {
	to    State
	event Event
}

// stepToState 将目标状态展开为事件序列并逐个应用。
// 成交类状态由成交量对账推进，这里只处理确认/撤销/拒绝/过期/失败。
func (m *Manager) stepToState(o *Order, target State) bool {
	current := o.CurrentState()
	if current == target {
		return false
	}

	var path []syncStep
	switch target {
	case StatePendingSubmit:
		path = append(path, syncStep{StatePendingSubmit, EventSubmit})
	case StateOpen:
		if current == StatePendingNew {
			path = append(path, syncStep{StatePendingSubmit, EventSubmit})
		}
		path = append(path, syncStep{StateOpen, EventConfirm})
	case StateCanceled:
		path = append(path, syncStep{StateCanceled, EventCancelConfirm})
	case StateRejected:
		path = append(path, syncStep{StateRejected, EventReject})
	case StateExpired:
		path = append(path, syncStep{StateExpired, EventExpire})
	case StateFailed:
		path = append(path, syncStep{StateFailed, EventFail})
	case StatePartiallyFilled, StateFilled:
		// 由成交量对账推进；状态仍不一致说明快照自身矛盾
		if o.CurrentState() != target {
			m.log.Warn("snapshot state disagrees with executed volume",
				zap.String("order_id", o.ID),
				zap.String("local", string(o.CurrentState())),
				zap.String("target", string(target)))
		}
		return false
	default:
		m.log.Warn("snapshot requests unreachable state",
			zap.String("order_id", o.ID), zap.String("target", string(target)))
		return false
	}

	changed := false
	for _, step := range path {
		if o.CurrentState() == step.to {
			continue
		}
		if !o.TransitionTo(step.to, step.event, "snapshot reconciliation", nil) {
			m.countIllegalTransition(o.ID, step.to, step.event)
			return changed
		}
		changed = true
	}
	return changed
}

// ProcessFillUpdate 将离散成交路由到对应订单。
// 未知订单的成交属于与创建确认的竞态：计数后返回 ErrUnknownOrder，
// 由调用方决定是丢弃还是等交易所重投后再试。
func (m *Manager) ProcessFillUpdate(f Fill) error {
	o, ok := m.GetOrder(f.OrderID)
	if !ok {
		m.mu.Lock()
		m.stats.UnknownFillsDropped++
		m.mu.Unlock()
		m.log.Info("fill for unknown order dropped",
			zap.String("trade_id", f.TradeID), zap.String("order_id", f.OrderID))
		return fmt.Errorf("fill %s: %w", f.TradeID, ErrUnknownOrder)
	}

	if err := o.ApplyFill(f.Volume, f.Price, f.Fee); err != nil {
		m.recordFillError(o, err)
		return fmt.Errorf("apply fill %s to order %s: %w", f.TradeID, f.OrderID, err)
	}

	m.mu.Lock()
	m.stats.FillsApplied++
	m.mu.Unlock()

	if o.CurrentState() == StateFilled {
		m.countTerminal(StateFilled)
	}
	m.log.Info("fill applied",
		zap.String("trade_id", f.TradeID),
		zap.String("order_id", f.OrderID),
		zap.String("volume", f.Volume.String()),
		zap.String("price", f.Price.String()),
	)
	return nil
}

func (m *Manager) recordFillError(o *Order, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch err {
	case ErrOverfill:
		m.stats.OverfillsRejected++
		m.log.Error("overfill rejected, reconciliation discrepancy",
			zap.String("order_id", o.ID))
	case ErrInvalidTransition:
		m.stats.IllegalTransitions++
		m.mon.RecordIllegalTransition()
	}
}

func (m *Manager) countIllegalTransition(id string, to State, event Event) {
	m.mu.Lock()
	m.stats.IllegalTransitions++
	m.mu.Unlock()
	m.mon.RecordIllegalTransition()
	m.log.Warn("illegal transition rejected",
		zap.String("order_id", id),
		zap.String("to", string(to)),
		zap.String("event", string(event)))
}

func (m *Manager) countTerminal(s State) {
	m.mon.RecordOrderTerminal(string(s))
	m.mu.Lock()
	defer m.mu.Unlock()
	switch s {
	case StateFilled:
		m.stats.OrdersFilled++
	case StateCanceled:
		m.stats.OrdersCanceled++
	case StateRejected:
		m.stats.OrdersRejected++
	case StateExpired:
		m.stats.OrdersExpired++
	case StateFailed:
		m.stats.OrdersFailed++
	}
}

// GetOrder 按 ID 查询订单。
func (m *Manager) GetOrder(id string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok
}

// HasOrder 判断订单是否存在。
func (m *Manager) HasOrder(id string) bool {
	_, ok := m.GetOrder(id)
	return ok
}

// GetAllOrders 返回全部订单。
func (m *Manager) GetAllOrders() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		res = append(res, o)
	}
	return res
}

// GetActiveOrders 返回所有仍可能成交的订单。
func (m *Manager) GetActiveOrders() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*Order, 0)
	for _, o := range m.orders {
		if !IsTerminal(o.CurrentState()) {
			res = append(res, o)
		}
	}
	return res
}

// GetStatistics 返回累计计数的拷贝。
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetOrdersSummary 返回全部订单的执行摘要，供外部展示。
func (m *Manager) GetOrdersSummary() []ExecutionSummary {
	orders := m.GetAllOrders()
	res := make([]ExecutionSummary, 0, len(orders))
	for _, o := range orders {
		res = append(res, o.GetExecutionSummary())
	}
	return res
}

// SetConstraints 设置各交易对的精度/名义限制。
func (m *Manager) SetConstraints(c map[string]PairConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = make(map[string]PairConstraints, len(c))
	for pair, pc := range c {
		m.constraints[pair] = pc
	}
}

func (m *Manager) validateConstraint(req CreationRequest) error {
	m.mu.RLock()
	c, ok := m.constraints[req.Pair]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if req.Type == TypeMarket {
		return nil
	}
	return c.Validate(req.Price, req.Volume)
}

// generateID 生成带前缀的订单 ID。
func generateID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
