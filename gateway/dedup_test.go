package gateway

import (
	"fmt"
	"testing"
)

func TestDedupObserve(t *testing.T) {
	w := NewDedupWindow(10)
	if !w.Observe("t1") {
		t.Fatal("first observation should return true")
	}
	if w.Observe("t1") {
		t.Fatal("second observation should return false")
	}
	if !w.Observe("t2") {
		t.Fatal("different key should return true")
	}
}

func TestDedupBoundedEviction(t *testing.T) {
	w := NewDedupWindow(3)
	for i := 0; i < 5; i++ {
		w.Observe(fmt.Sprintf("t%d", i))
	}
	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
	// 最老的 t0/t1 已被淘汰，再次出现视为新键
	if !w.Observe("t0") {
		t.Fatal("evicted key should be observable again")
	}
	// 最近的 t4 仍在窗口内
	if w.Observe("t4") {
		t.Fatal("recent key should still be deduplicated")
	}
}

func TestDedupLRUTouchKeepsKeyAlive(t *testing.T) {
	w := NewDedupWindow(2)
	w.Observe("a")
	w.Observe("b")
	w.Observe("a") // 触碰 a，b 成为最老
	w.Observe("c") // 淘汰 b

	if w.Observe("a") {
		t.Fatal("a should still be in window")
	}
	if !w.Observe("b") {
		t.Fatal("b should have been evicted")
	}
}

func TestDedupReset(t *testing.T) {
	w := NewDedupWindow(10)
	w.Observe("t1")
	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("len after reset = %d", w.Len())
	}
	if !w.Observe("t1") {
		t.Fatal("reset window should forget keys")
	}
}

func TestDedupDefaultCapacity(t *testing.T) {
	w := NewDedupWindow(0)
	for i := 0; i < 5000; i++ {
		w.Observe(fmt.Sprintf("t%d", i))
	}
	if w.Len() != 4096 {
		t.Fatalf("len = %d, want default capacity 4096", w.Len())
	}
}

func TestDedupForget(t *testing.T) {
	w := NewDedupWindow(8)
	if !w.Observe("t1") {
		t.Fatal("first observe must return true")
	}
	w.Forget("t1")
	if w.Len() != 0 {
		t.Fatalf("len = %d, want 0 after forget", w.Len())
	}
	if !w.Observe("t1") {
		t.Fatal("forgotten key must count as first seen again")
	}
	// 不存在的键：无副作用
	w.Forget("ghost")
	if w.Len() != 1 {
		t.Fatalf("len = %d, want 1", w.Len())
	}
}
