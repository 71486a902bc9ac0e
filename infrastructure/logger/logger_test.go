package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestLogOrder(t *testing.T) {
	l, logs := newObservedLogger()
	l.LogOrder("created", "ord-1", map[string]interface{}{"pair": "XBT/USD"})

	entries := logs.FilterMessage("order_event").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["order_id"] != "ord-1" || fields["event"] != "created" {
		t.Fatalf("fields = %v", fields)
	}
	if fields["pair"] != "XBT/USD" {
		t.Fatalf("caller field lost: %v", fields)
	}
}

func TestLogFill(t *testing.T) {
	l, logs := newObservedLogger()
	l.LogFill("stream_fill", "T-1", nil)

	entries := logs.FilterMessage("fill_event").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["trade_id"] != "T-1" {
		t.Fatalf("fields = %v", entries[0].ContextMap())
	}
}

func TestLogSync(t *testing.T) {
	l, logs := newObservedLogger()
	l.LogSync("resync", map[string]interface{}{"orders": 3})

	entries := logs.FilterMessage("sync_event").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["event"] != "resync" {
		t.Fatalf("fields = %v", entries[0].ContextMap())
	}
}

func TestLogPatternWarnsWithConfidence(t *testing.T) {
	l, logs := newObservedLogger()
	l.LogPattern("accumulation", 0.91, nil)

	entries := logs.FilterMessage("pattern_event").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level = %s, want warn", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if fields["pattern_type"] != "accumulation" || fields["confidence"] != 0.91 {
		t.Fatalf("fields = %v", fields)
	}
}
