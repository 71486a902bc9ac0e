package order

// stateEvent 是转换表的键：当前状态 + 触发事件。
type stateEvent struct {
	From  State
	Event Event
}

// StateMachine 订单状态机。转换表在构造后只读，
// 因此可以被多个 goroutine 并发查询而无需加锁。
type StateMachine struct {
	table map[stateEvent]State
}

// NewStateMachine 创建新的状态机。
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		table: make(map[stateEvent]State),
	}
	sm.initializeTable()
	return sm
}

// initializeTable 初始化所有合法的 (状态, 事件) -> 目标状态 映射。
// 表中不存在的组合一律视为非法转换。
func (sm *StateMachine) initializeTable() {
	entries := []struct {
		From  State
		Event Event
		To    State
	}{
		// PENDING_NEW：仅允许提交或本地终结
		{StatePendingNew, EventSubmit, StatePendingSubmit},
		{StatePendingNew, EventReject, StateRejected},
		{StatePendingNew, EventFail, StateFailed},
		{StatePendingNew, EventCancelConfirm, StateCanceled},

		// PENDING_SUBMIT：确认回报可能与成交回报乱序到达
		{StatePendingSubmit, EventConfirm, StateOpen},
		{StatePendingSubmit, EventPartialFill, StatePartiallyFilled},
		{StatePendingSubmit, EventFullFill, StateFilled},
		{StatePendingSubmit, EventReject, StateRejected},
		{StatePendingSubmit, EventCancelConfirm, StateCanceled},
		{StatePendingSubmit, EventExpire, StateExpired},
		{StatePendingSubmit, EventFail, StateFailed},

		// OPEN
		{StateOpen, EventPartialFill, StatePartiallyFilled},
		{StateOpen, EventFullFill, StateFilled},
		{StateOpen, EventCancelRequest, StateOpen}, // 撤单请求已发出，等待确认
		{StateOpen, EventCancelConfirm, StateCanceled},
		{StateOpen, EventExpire, StateExpired},
		{StateOpen, EventFail, StateFailed},

		// PARTIALLY_FILLED：可多次部分成交
		{StatePartiallyFilled, EventPartialFill, StatePartiallyFilled},
		{StatePartiallyFilled, EventFullFill, StateFilled},
		{StatePartiallyFilled, EventCancelRequest, StatePartiallyFilled},
		{StatePartiallyFilled, EventCancelConfirm, StateCanceled},
		{StatePartiallyFilled, EventExpire, StateExpired},
		{StatePartiallyFilled, EventFail, StateFailed},

		// 终态（FILLED, CANCELED, REJECTED, EXPIRED, FAILED）无出边
	}

	for _, e := range entries {
		sm.table[stateEvent{e.From, e.Event}] = e.To
	}
}

// NextState 查询 (状态, 事件) 对应的目标状态；非法组合返回 false。
func (sm *StateMachine) NextState(from State, event Event) (State, bool) {
	to, ok := sm.table[stateEvent{from, event}]
	return to, ok
}

// IsValidTransition 验证 from -> to 是否存在任一事件使其合法。
func (sm *StateMachine) IsValidTransition(from, to State) bool {
	for key, dst := range sm.table {
		if key.From == from && dst == to {
			return true
		}
	}
	return false
}

// AllowedEvents 返回当前状态下所有合法事件。
func (sm *StateMachine) AllowedEvents(from State) []Event {
	events := make([]Event, 0)
	for key := range sm.table {
		if key.From == from {
			events = append(events, key.Event)
		}
	}
	return events
}

// IsTerminal 判断是否是终态。
func IsTerminal(s State) bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

// IsActive 判断是否是活跃状态（可能继续产生成交）。
func IsActive(s State) bool {
	switch s {
	case StateOpen, StatePartiallyFilled:
		return true
	default:
		return false
	}
}

// IsPending 判断是否是待确认状态。
func IsPending(s State) bool {
	switch s {
	case StatePendingNew, StatePendingSubmit:
		return true
	default:
		return false
	}
}

// machine 是包级共享的状态机实例；表只读，跨订单共用安全。
var machine = NewStateMachine()
