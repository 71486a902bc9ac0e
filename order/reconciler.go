package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SnapshotSource 提供交易所侧的权威订单快照（已映射为内部词汇）。
type SnapshotSource interface {
	OpenOrderSnapshots(ctx context.Context) ([]VenueSnapshot, error)
}

// Reconciler 定期拉取交易所快照并合并到本地注册表。
// 连接断开期间丢失的回报最终由这里修复。
type Reconciler struct {
	source   SnapshotSource
	manager  *Manager
	interval time.Duration
	log      *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// 统计信息
	totalRuns             int64
	discrepanciesResolved int64
	lastRunTime           time.Time
}

// ReconcilerConfig 对账器配置。
type ReconcilerConfig struct {
	Interval time.Duration // 对账间隔
}

// NewReconciler 创建订单对账器。
func NewReconciler(source SnapshotSource, manager *Manager, config ReconcilerConfig, log *zap.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second // 默认30秒
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		source:   source,
		manager:  manager,
		interval: config.Interval,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动对账服务。
func (r *Reconciler) Start(ctx context.Context) error {
	go r.reconcileLoop(ctx)
	return nil
}

// Stop 停止对账服务。
func (r *Reconciler) Stop() error {
	close(r.stopChan)
	<-r.doneChan // 等待循环退出
	return nil
}

// reconcileLoop 对账循环。
func (r *Reconciler) reconcileLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.log.Warn("reconcile run failed", zap.Error(err))
			}
		}
	}
}

// Reconcile 执行一次完整对账。
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	r.totalRuns++
	r.lastRunTime = time.Now()
	r.mu.Unlock()

	snaps, err := r.source.OpenOrderSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("fetch venue snapshots: %w", err)
	}

	var reconcileErr error
	for _, snap := range snaps {
		changed, err := r.manager.SyncOrderFromSnapshot(snap)
		if err != nil {
			reconcileErr = err
			// 继续处理其他订单
			continue
		}
		if changed {
			r.mu.Lock()
			r.discrepanciesResolved++
			r.mu.Unlock()
		}
	}
	return reconcileErr
}

// ForceReconcile 立即执行一次对账（用于测试或紧急情况）。
func (r *Reconciler) ForceReconcile(ctx context.Context) error {
	return r.Reconcile(ctx)
}

// ReconcilerStats 对账统计信息。
type ReconcilerStats struct {
	TotalRuns             int64
	DiscrepanciesResolved int64
	LastRunTime           time.Time
	Interval              time.Duration
}

// GetStatistics 获取对账统计信息。
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ReconcilerStats{
		TotalRuns:             r.totalRuns,
		DiscrepanciesResolved: r.discrepanciesResolved,
		LastRunTime:           r.lastRunTime,
		Interval:              r.interval,
	}
}
