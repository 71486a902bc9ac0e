package gateway

import (
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{"seq":42,"channel":"ownTrades","data":[]}`)
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Seq != 42 || env.Channel != ChannelOwnTrades {
		t.Fatalf("env = %+v", env)
	}
}

func TestParseEnvelopeMissingChannel(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"seq":1}`)); err == nil {
		t.Fatal("expected error for missing channel")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestParseOrderSnapshots(t *testing.T) {
	data := []byte(`[{
		"order_id": "OABC-123",
		"status": "open",
		"volume": "1.5",
		"volume_executed": "0.5",
		"cost": "25000.0",
		"fee": "12.5",
		"descr": {"pair": "XBT/USD", "type": "buy", "ordertype": "limit", "price": "50000.0"}
	}]`)
	msgs, err := ParseOrderSnapshots(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	m := msgs[0]
	if m.OrderID != "OABC-123" || m.Status != "open" || m.VolumeExecuted != "0.5" {
		t.Fatalf("msg = %+v", m)
	}
	if m.Descr.Pair != "XBT/USD" || m.Descr.OrderType != "limit" {
		t.Fatalf("descr = %+v", m.Descr)
	}
}

func TestParseFills(t *testing.T) {
	data := []byte(`[{
		"trade_id": "T-1",
		"order_id": "OABC-123",
		"pair": "XBT/USD",
		"time": 1716800000.25,
		"side": "buy",
		"order_type": "maker",
		"price": "50000.0",
		"volume": "0.5",
		"fee": "12.5",
		"fee_currency": "USD"
	}]`)
	msgs, err := ParseFills(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].TradeID != "T-1" || msgs[0].Side != "buy" {
		t.Fatalf("msg = %+v", msgs[0])
	}
}

func TestParseDecimalEmptyIsZero(t *testing.T) {
	v, err := parseDecimal("fee", "")
	if err != nil {
		t.Fatalf("empty: %v", err)
	}
	if !v.IsZero() {
		t.Fatalf("empty = %s, want 0", v)
	}
	if _, err := parseDecimal("fee", "abc"); err == nil {
		t.Fatal("expected error for non-numeric")
	}
}

func TestUnixTime(t *testing.T) {
	ts := unixTime(1716800000.5)
	want := time.Unix(1716800000, 500000000).UTC()
	if !ts.Equal(want) {
		t.Fatalf("ts = %v, want %v", ts, want)
	}
}
