package order

import "testing"

func TestNextStateValidTransitions(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StatePendingNew, EventSubmit, StatePendingSubmit},
		{StatePendingNew, EventReject, StateRejected},
		{StatePendingNew, EventFail, StateFailed},
		{StatePendingNew, EventCancelConfirm, StateCanceled},
		{StatePendingSubmit, EventConfirm, StateOpen},
		{StatePendingSubmit, EventPartialFill, StatePartiallyFilled},
		{StatePendingSubmit, EventFullFill, StateFilled},
		{StatePendingSubmit, EventReject, StateRejected},
		{StateOpen, EventPartialFill, StatePartiallyFilled},
		{StateOpen, EventFullFill, StateFilled},
		{StateOpen, EventCancelConfirm, StateCanceled},
		{StateOpen, EventExpire, StateExpired},
		{StatePartiallyFilled, EventPartialFill, StatePartiallyFilled},
		{StatePartiallyFilled, EventFullFill, StateFilled},
		{StatePartiallyFilled, EventCancelConfirm, StateCanceled},
	}
	sm := NewStateMachine()
	for _, c := range cases {
		got, ok := sm.NextState(c.from, c.event)
		if !ok {
			t.Errorf("%s + %s: expected transition, got none", c.from, c.event)
			continue
		}
		if got != c.want {
			t.Errorf("%s + %s: got %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestNextStateRejectsIllegal(t *testing.T) {
	cases := []struct {
		from  State
		event Event
	}{
		// 尚未到达交易所的订单不可能有成交
		{StatePendingNew, EventPartialFill},
		{StatePendingNew, EventFullFill},
		{StatePendingNew, EventConfirm},
		// 终态没有出边
		{StateFilled, EventPartialFill},
		{StateFilled, EventCancelConfirm},
		{StateCanceled, EventFullFill},
		{StateRejected, EventSubmit},
		{StateExpired, EventConfirm},
		{StateFailed, EventSubmit},
	}
	sm := NewStateMachine()
	for _, c := range cases {
		if next, ok := sm.NextState(c.from, c.event); ok {
			t.Errorf("%s + %s: expected rejection, got %s", c.from, c.event, next)
		}
	}
}

func TestCancelRequestIsSelfTransition(t *testing.T) {
	sm := NewStateMachine()
	for _, from := range []State{StateOpen, StatePartiallyFilled} {
		next, ok := sm.NextState(from, EventCancelRequest)
		if !ok || next != from {
			t.Fatalf("cancel request from %s: got (%s, %v), want self-transition", from, next, ok)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	terminals := []State{StateFilled, StateCanceled, StateRejected, StateExpired, StateFailed}
	for _, s := range terminals {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if IsActive(s) || IsPending(s) {
			t.Errorf("%s should be neither active nor pending", s)
		}
	}

	for _, s := range []State{StateOpen, StatePartiallyFilled} {
		if !IsActive(s) || IsTerminal(s) {
			t.Errorf("%s should be active and non-terminal", s)
		}
	}

	for _, s := range []State{StatePendingNew, StatePendingSubmit} {
		if !IsPending(s) || IsTerminal(s) {
			t.Errorf("%s should be pending and non-terminal", s)
		}
	}
}

func TestAllowedEvents(t *testing.T) {
	sm := NewStateMachine()
	if events := sm.AllowedEvents(StateFilled); len(events) != 0 {
		t.Fatalf("terminal state should allow no events, got %v", events)
	}
	open := sm.AllowedEvents(StateOpen)
	if len(open) == 0 {
		t.Fatal("OPEN should allow events")
	}
	found := false
	for _, e := range open {
		if e == EventPartialFill {
			found = true
		}
	}
	if !found {
		t.Fatalf("OPEN should allow PARTIAL_FILL, got %v", open)
	}
}

func TestIsValidTransition(t *testing.T) {
	sm := NewStateMachine()
	if !sm.IsValidTransition(StateOpen, StateFilled) {
		t.Fatal("OPEN -> FILLED should be valid")
	}
	if sm.IsValidTransition(StateFilled, StateOpen) {
		t.Fatal("FILLED -> OPEN should be invalid")
	}
}
