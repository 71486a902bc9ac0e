package gateway

import (
	"container/list"
	"sync"
)

// DedupWindow 有界 LRU 去重窗口。
// 传输层是 at-least-once 送达，同一 trade_id 可能被重复投递；
// 窗口大小覆盖最大可能的重投区间即可，内存不随运行时间增长。
type DedupWindow struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]*list.Element
	lru      *list.List
}

// NewDedupWindow 创建去重窗口。
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = 4096
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Observe 登记一个键。首次出现返回 true，重复返回 false。
func (d *DedupWindow) Observe(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.seen[key]; ok {
		d.lru.MoveToFront(elem)
		return false
	}

	d.seen[key] = d.lru.PushFront(key)
	if d.lru.Len() > d.capacity {
		oldest := d.lru.Back()
		d.lru.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return true
}

// Forget 撤销一个键的登记，让它下次重投时重新当作首见。
// 用于已登记但最终没有应用成功的成交。
func (d *DedupWindow) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if elem, ok := d.seen[key]; ok {
		d.lru.Remove(elem)
		delete(d.seen, key)
	}
}

// Len 返回窗口内键数。
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Len()
}

// Reset 清空窗口。
func (d *DedupWindow) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]*list.Element, d.capacity)
	d.lru.Init()
}
