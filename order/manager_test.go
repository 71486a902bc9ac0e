package order

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"order-tracker-go/infrastructure/monitor"
)

type mockGateway struct {
	placed    []*Order
	canceled  []string
	errPlace  error
	errCancel error
}

func (m *mockGateway) Place(ctx context.Context, o *Order) (string, error) {
	if m.errPlace != nil {
		return "", m.errPlace
	}
	m.placed = append(m.placed, o)
	return "venue-" + o.ID, nil
}

func (m *mockGateway) Cancel(ctx context.Context, venueOrderID string) error {
	m.canceled = append(m.canceled, venueOrderID)
	return m.errCancel
}

func limitRequest(volume, price string) CreationRequest {
	return CreationRequest{
		Pair:   "XBT/USD",
		Side:   SideBuy,
		Type:   TypeLimit,
		Volume: d(volume),
		Price:  d(price),
	}
}

func TestCreateOrderValidation(t *testing.T) {
	m := NewManager(nil, nil, nil)

	cases := []struct {
		name string
		req  CreationRequest
	}{
		{"missing pair", CreationRequest{Side: SideBuy, Type: TypeLimit, Volume: d("1"), Price: d("100")}},
		{"invalid side", CreationRequest{Pair: "XBT/USD", Side: "LONG", Type: TypeLimit, Volume: d("1"), Price: d("100")}},
		{"zero volume", CreationRequest{Pair: "XBT/USD", Side: SideBuy, Type: TypeLimit, Volume: decimal.Zero, Price: d("100")}},
		{"limit without price", CreationRequest{Pair: "XBT/USD", Side: SideBuy, Type: TypeLimit, Volume: d("1")}},
		{"stop loss without price", CreationRequest{Pair: "XBT/USD", Side: SideSell, Type: TypeStopLoss, Volume: d("1")}},
	}
	for _, c := range cases {
		if _, err := m.CreateOrder(c.req); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}

	// 市价单不需要价格
	if _, err := m.CreateOrder(CreationRequest{Pair: "XBT/USD", Side: SideSell, Type: TypeMarket, Volume: d("1")}); err != nil {
		t.Fatalf("market order without price: %v", err)
	}
}

func TestCreateOrderDuplicateClientID(t *testing.T) {
	m := NewManager(nil, nil, nil)
	req := limitRequest("1", "100")
	req.ClientOrderID = "client-1"

	if _, err := m.CreateOrder(req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.CreateOrder(req); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("duplicate create: err = %v, want ErrDuplicateOrder", err)
	}
}

func TestCreateOrderConstraints(t *testing.T) {
	m := NewManager(nil, nil, nil)
	m.SetConstraints(map[string]PairConstraints{
		"XBT/USD": {
			TickSize:  d("0.1"),
			StepSize:  d("0.001"),
			MinVolume: d("0.001"),
		},
	})

	if _, err := m.CreateOrder(limitRequest("0.002", "100.1")); err != nil {
		t.Fatalf("aligned order rejected: %v", err)
	}
	if _, err := m.CreateOrder(limitRequest("0.002", "100.15")); err == nil {
		t.Fatal("expected tick size violation")
	}
	if _, err := m.CreateOrder(limitRequest("0.0005", "100.1")); err == nil {
		t.Fatal("expected min volume violation")
	}
}

func TestSubmitOrderRecordsVenueID(t *testing.T) {
	gw := &mockGateway{}
	m := NewManager(gw, nil, nil)
	o, err := m.CreateOrder(limitRequest("1", "100"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.SubmitOrder(context.Background(), o.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.CurrentState() != StatePendingSubmit {
		t.Fatalf("state = %s, want PENDING_SUBMIT", o.CurrentState())
	}
	if o.VenueOrderID != "venue-"+o.ID {
		t.Fatalf("venue id = %q", o.VenueOrderID)
	}
	if len(gw.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(gw.placed))
	}
}

func TestSubmitTimeoutLeavesStatePending(t *testing.T) {
	gw := &mockGateway{errPlace: context.DeadlineExceeded}
	m := NewManager(gw, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1", "100"))

	err := m.SubmitOrder(context.Background(), o.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	// 超时后不得自行判定结果，停留在 PENDING_SUBMIT 等对账
	if o.CurrentState() != StatePendingSubmit {
		t.Fatalf("state = %s, want PENDING_SUBMIT", o.CurrentState())
	}
}

func TestRequestCancelOnlyActiveOrders(t *testing.T) {
	gw := &mockGateway{}
	m := NewManager(gw, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1", "100"))

	// PENDING_NEW 不可撤
	if err := m.RequestCancel(context.Background(), o.ID); err == nil {
		t.Fatal("cancel of pending-new order should fail")
	}

	m.SubmitOrder(context.Background(), o.ID)
	o.TransitionTo(StateOpen, EventConfirm, "", nil)
	if err := m.RequestCancel(context.Background(), o.ID); err != nil {
		t.Fatalf("cancel open order: %v", err)
	}
	// 撤单请求不改变有效状态，等待 CANCEL_CONFIRM
	if o.CurrentState() != StateOpen {
		t.Fatalf("state = %s, want OPEN while awaiting confirm", o.CurrentState())
	}
	if len(gw.canceled) != 1 {
		t.Fatalf("canceled %d, want 1", len(gw.canceled))
	}
}

func TestSyncOrderFromSnapshotIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1.0", "100"))

	snap := VenueSnapshot{
		OrderID:        o.ID,
		State:          StatePartiallyFilled,
		Volume:         d("1.0"),
		VolumeExecuted: d("0.4"),
		Cost:           d("40"),
		Fee:            d("0.04"),
		Price:          d("100"),
	}

	changed, err := m.SyncOrderFromSnapshot(snap)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if !changed {
		t.Fatal("first sync should report change")
	}
	s := o.GetExecutionSummary()
	if !s.VolumeExecuted.Equal(d("0.4")) {
		t.Fatalf("executed = %s, want 0.4", s.VolumeExecuted)
	}
	if !s.AvgFillPrice.Equal(d("100")) {
		t.Fatalf("avg = %s, want 100", s.AvgFillPrice)
	}

	// 同一快照重放：无增量，不重复计数
	changed, err = m.SyncOrderFromSnapshot(snap)
	if err != nil {
		t.Fatalf("replay sync: %v", err)
	}
	if changed {
		t.Fatal("replay sync should be a no-op")
	}
	s = o.GetExecutionSummary()
	if !s.VolumeExecuted.Equal(d("0.4")) || s.FillCount != 1 {
		t.Fatalf("replay mutated state: executed=%s fills=%d", s.VolumeExecuted, s.FillCount)
	}
}

func TestSyncSnapshotAppliesCumulativeDelta(t *testing.T) {
	m := NewManager(nil, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1.0", "100"))

	first := VenueSnapshot{
		OrderID: o.ID, State: StatePartiallyFilled,
		Volume: d("1.0"), VolumeExecuted: d("0.4"), Cost: d("40"), Fee: d("0.04"),
	}
	if _, err := m.SyncOrderFromSnapshot(first); err != nil {
		t.Fatalf("first: %v", err)
	}

	// 快照推进到完全成交：应用 0.6 的差值，均价按金额差推导 (101-40)/0.6
	second := VenueSnapshot{
		OrderID: o.ID, State: StateFilled,
		Volume: d("1.0"), VolumeExecuted: d("1.0"), Cost: d("101"), Fee: d("0.1"),
	}
	if _, err := m.SyncOrderFromSnapshot(second); err != nil {
		t.Fatalf("second: %v", err)
	}

	s := o.GetExecutionSummary()
	if s.State != StateFilled {
		t.Fatalf("state = %s, want FILLED", s.State)
	}
	if !s.VolumeExecuted.Equal(d("1.0")) {
		t.Fatalf("executed = %s, want 1.0", s.VolumeExecuted)
	}
	// 加权平均 = 总金额/总量 = 101
	if !s.AvgFillPrice.Equal(d("101")) {
		t.Fatalf("avg = %s, want 101", s.AvgFillPrice)
	}
	if !s.TotalFees.Equal(d("0.1")) {
		t.Fatalf("fees = %s, want 0.1", s.TotalFees)
	}
}

func TestSyncSnapshotTerminalOrderIgnored(t *testing.T) {
	m := NewManager(nil, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1.0", "100"))
	o.TransitionTo(StatePendingSubmit, EventSubmit, "", nil)
	o.TransitionTo(StateCanceled, EventCancelConfirm, "", nil)

	changed, err := m.SyncOrderFromSnapshot(VenueSnapshot{
		OrderID: o.ID, State: StateOpen,
		Volume: d("1.0"), VolumeExecuted: d("0.5"), Cost: d("50"),
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if changed {
		t.Fatal("terminal order must not change")
	}
	if o.CurrentState() != StateCanceled {
		t.Fatalf("state = %s, want CANCELED", o.CurrentState())
	}
}

func TestSyncSnapshotUnknownOrder(t *testing.T) {
	m := NewManager(nil, nil, nil)
	_, err := m.SyncOrderFromSnapshot(VenueSnapshot{OrderID: "ghost", State: StateOpen})
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("err = %v, want ErrUnknownOrder", err)
	}
}

func TestProcessFillUpdateUnknownOrderDropped(t *testing.T) {
	m := NewManager(nil, nil, nil)
	err := m.ProcessFillUpdate(Fill{
		TradeID: "t1", OrderID: "ghost",
		Volume: d("0.1"), Price: d("100"),
	})
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("err = %v, want ErrUnknownOrder", err)
	}
	if m.GetStatistics().UnknownFillsDropped != 1 {
		t.Fatal("unknown fill not counted")
	}
	if m.HasOrder("ghost") {
		t.Fatal("dropped fill must not register an order")
	}
}

func TestProcessFillUpdateRoutesToOrder(t *testing.T) {
	m := NewManager(nil, nil, nil)
	o, _ := m.CreateOrder(limitRequest("1.0", "100"))
	o.TransitionTo(StatePendingSubmit, EventSubmit, "", nil)
	o.TransitionTo(StateOpen, EventConfirm, "", nil)

	if err := m.ProcessFillUpdate(Fill{
		TradeID: "t1", OrderID: o.ID,
		Volume: d("1.0"), Price: d("99.5"), Fee: d("0.01"),
	}); err != nil {
		t.Fatalf("fill: %v", err)
	}

	stats := m.GetStatistics()
	if stats.FillsApplied != 1 || stats.OrdersFilled != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if o.CurrentState() != StateFilled {
		t.Fatalf("state = %s, want FILLED", o.CurrentState())
	}
}

func TestGetActiveOrders(t *testing.T) {
	m := NewManager(nil, nil, nil)
	a, _ := m.CreateOrder(limitRequest("1", "100"))
	b, _ := m.CreateOrder(limitRequest("2", "100"))
	_ = a

	b.TransitionTo(StatePendingSubmit, EventSubmit, "", nil)
	b.TransitionTo(StateRejected, EventReject, "", nil)

	active := m.GetActiveOrders()
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if active[0].ID != a.ID {
		t.Fatalf("active order = %s, want %s", active[0].ID, a.ID)
	}
}

func TestManagerRecordsOrderMetrics(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig())
	m := NewManager(nil, nil, mon)

	o, err := m.CreateOrder(limitRequest("1.0", "100"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SubmitOrder(context.Background(), o.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	o.TransitionTo(StateOpen, EventConfirm, "", nil)
	if err := m.ProcessFillUpdate(Fill{
		TradeID: "t1", OrderID: o.ID,
		Volume: d("1.0"), Price: d("100"),
	}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	// 从 FILLED 再次提交必须被拒绝并计入非法转换
	if err := m.SubmitOrder(context.Background(), o.ID); err == nil {
		t.Fatal("submit from terminal state must fail")
	}

	for _, name := range []string{
		"ot_tracker_orders_created_total",
		"ot_tracker_orders_submitted_total",
		"ot_tracker_orders_terminal_total",
		"ot_tracker_illegal_transitions_total",
	} {
		n, err := testutil.GatherAndCount(mon.Registry(), name)
		if err != nil {
			t.Fatalf("gather %s: %v", name, err)
		}
		if n == 0 {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestGenerateIDsAreUnique(t *testing.T) {
	m := NewManager(nil, nil, nil)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		o, err := m.CreateOrder(limitRequest("1", "100"))
		if err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
		if seen[o.ID] {
			t.Fatalf("duplicate order id %s", o.ID)
		}
		seen[o.ID] = true
	}
}
