package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-tracker-go/infrastructure/monitor"
	"order-tracker-go/order"
)

// SnapshotClient 在重连后提供交易所侧的权威全量视图。
type SnapshotClient interface {
	OpenOrders(ctx context.Context) ([]OrderSnapshotMsg, error)
	RecentTrades(ctx context.Context) ([]FillMsg, error)
}

// FillSink 接收已去重的成交，供分析层消费。其失败不得影响订单正确性。
type FillSink interface {
	ProcessFill(f order.Fill)
}

// SyncAdapter 把无序、可能重复的传输层消息转成对 Manager 的幂等调用。
// 每条入站消息都当作可能过期或重复的观察值合并，绝不盲目应用。
type SyncAdapter struct {
	manager *order.Manager
	rest    SnapshotClient
	dedup   *DedupWindow
	sink    FillSink
	log     *zap.Logger
	mon     *monitor.Monitor

	mu      sync.Mutex
	lastSeq int64
}

// SyncAdapterConfig 适配器配置。
type SyncAdapterConfig struct {
	DedupCapacity int // trade_id 去重窗口大小
}

// NewSyncAdapter 创建同步适配器。rest/sink/mon 均可为 nil。
func NewSyncAdapter(manager *order.Manager, rest SnapshotClient, cfg SyncAdapterConfig, log *zap.Logger, mon *monitor.Monitor) *SyncAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncAdapter{
		manager: manager,
		rest:    rest,
		dedup:   NewDedupWindow(cfg.DedupCapacity),
		log:     log,
		mon:     mon,
	}
}

// SetFillSink 注入分析层消费者。
func (a *SyncAdapter) SetFillSink(sink FillSink) {
	a.sink = sink
}

// HandleMessage 处理一条原始传输层消息。
func (a *SyncAdapter) HandleMessage(raw []byte) error {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}

	// 序号回退说明是重投/乱序的旧批次，直接丢弃；
	// 丢掉的内容最终由快照对账补齐
	if env.Seq > 0 {
		a.mu.Lock()
		stale := env.Seq <= a.lastSeq
		if !stale {
			a.lastSeq = env.Seq
		}
		a.mu.Unlock()
		if stale {
			a.mon.RecordStaleEnvelope()
			a.log.Debug("stale envelope dropped", zap.Int64("seq", env.Seq))
			return nil
		}
	}

	switch env.Channel {
	case ChannelHeartbeat:
		return nil
	case ChannelOpenOrders:
		msgs, err := ParseOrderSnapshots(env.Data)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := a.applySnapshot(msg); err != nil {
				a.log.Warn("snapshot not applied", zap.String("order_id", msg.OrderID), zap.Error(err))
			}
		}
		return nil
	case ChannelOwnTrades:
		msgs, err := ParseFills(env.Data)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			a.applyFill(msg)
		}
		return nil
	default:
		a.log.Debug("unhandled channel", zap.String("channel", env.Channel))
		return nil
	}
}

// applySnapshot 把一条快照消息合并进本地状态。
func (a *SyncAdapter) applySnapshot(msg OrderSnapshotMsg) error {
	snap, err := a.toVenueSnapshot(msg)
	if err != nil {
		return err
	}
	_, err = a.manager.SyncOrderFromSnapshot(snap)
	if errors.Is(err, order.ErrUnknownOrder) {
		// 本地尚未登记的订单：跟踪模式下属预期，丢弃即可
		return nil
	}
	if err != nil {
		return err
	}
	a.mon.RecordSnapshotApplied()
	return nil
}

// applyFill 去重后把成交路由给 Manager 与分析层。
func (a *SyncAdapter) applyFill(msg FillMsg) {
	if msg.TradeID == "" {
		a.log.Warn("fill without trade_id dropped", zap.String("order_id", msg.OrderID))
		return
	}
	if !a.dedup.Observe(msg.TradeID) {
		a.mon.RecordDuplicateFill()
		a.log.Debug("duplicate fill dropped", zap.String("trade_id", msg.TradeID))
		return
	}

	f, err := a.toFill(msg)
	if err != nil {
		a.log.Warn("malformed fill dropped", zap.String("trade_id", msg.TradeID), zap.Error(err))
		return
	}

	start := time.Now()
	if err := a.manager.ProcessFillUpdate(f); err != nil {
		if errors.Is(err, order.ErrUnknownOrder) {
			// 与订单创建确认的竞态：撤销登记，交易所重投时订单已就位即可应用
			a.dedup.Forget(f.TradeID)
			a.mon.RecordUnknownFill()
			return
		}
		a.log.Warn("fill rejected", zap.String("trade_id", f.TradeID), zap.Error(err))
		if errors.Is(err, order.ErrOverfill) {
			a.mon.RecordOverfill()
		}
		return
	}
	vol, _ := f.Volume.Float64()
	a.mon.RecordFillApplied(time.Since(start).Seconds(), vol)

	if a.sink != nil {
		a.sink.ProcessFill(f)
	}
}

// Resync 拉取全量快照并合并；重连后的第一件事。
// 断连期间丢失的任何回报都通过这里修复。
func (a *SyncAdapter) Resync(ctx context.Context) error {
	if a.rest == nil {
		return nil
	}
	a.mon.RecordResync()

	snaps, err := a.rest.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("resync open orders: %w", err)
	}
	for _, msg := range snaps {
		if err := a.applySnapshot(msg); err != nil {
			a.log.Warn("resync snapshot not applied", zap.String("order_id", msg.OrderID), zap.Error(err))
		}
	}

	trades, err := a.rest.RecentTrades(ctx)
	if err != nil {
		return fmt.Errorf("resync recent trades: %w", err)
	}
	for _, msg := range trades {
		a.applyFill(msg) // 去重窗口保证已见过的 trade_id 不会二次应用
	}
	return nil
}

// OnConnect 在每次连接建立后调用：序号按连接重新计数，然后全量重同步。
func (a *SyncAdapter) OnConnect(ctx context.Context) error {
	a.mu.Lock()
	a.lastSeq = 0
	a.mu.Unlock()
	return a.Resync(ctx)
}

// OpenOrderSnapshots 实现 order.SnapshotSource，供定期对账器复用同一映射逻辑。
func (a *SyncAdapter) OpenOrderSnapshots(ctx context.Context) ([]order.VenueSnapshot, error) {
	if a.rest == nil {
		return nil, nil
	}
	msgs, err := a.rest.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]order.VenueSnapshot, 0, len(msgs))
	for _, msg := range msgs {
		snap, err := a.toVenueSnapshot(msg)
		if err != nil {
			a.log.Warn("snapshot skipped", zap.String("order_id", msg.OrderID), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// toVenueSnapshot 在边界处完成数值与状态词汇的映射。
func (a *SyncAdapter) toVenueSnapshot(msg OrderSnapshotMsg) (order.VenueSnapshot, error) {
	var snap order.VenueSnapshot
	var err error

	if msg.OrderID == "" {
		return snap, fmt.Errorf("snapshot missing order_id")
	}
	snap.OrderID = msg.OrderID
	if snap.Volume, err = parseDecimal("volume", msg.Volume); err != nil {
		return snap, err
	}
	if snap.VolumeExecuted, err = parseDecimal("volume_executed", msg.VolumeExecuted); err != nil {
		return snap, err
	}
	if snap.Cost, err = parseDecimal("cost", msg.Cost); err != nil {
		return snap, err
	}
	if snap.Fee, err = parseDecimal("fee", msg.Fee); err != nil {
		return snap, err
	}
	if snap.Price, err = parseDecimal("price", msg.Price); err != nil {
		return snap, err
	}
	if snap.State, err = MapStatus(msg.Status, snap.VolumeExecuted); err != nil {
		return snap, err
	}
	return snap, nil
}

// toFill 把成交消息转为领域对象。
func (a *SyncAdapter) toFill(msg FillMsg) (order.Fill, error) {
	var f order.Fill
	var err error

	f.TradeID = msg.TradeID
	f.OrderID = msg.OrderID
	f.Pair = msg.Pair
	f.Timestamp = unixTime(msg.Time)
	f.FeeCurrency = msg.FeeCurrency
	f.Type = MapFillType(msg.OrderType)

	if f.Side, err = MapSide(msg.Side); err != nil {
		return f, err
	}
	if f.Price, err = parseDecimal("price", msg.Price); err != nil {
		return f, err
	}
	if f.Volume, err = parseDecimal("volume", msg.Volume); err != nil {
		return f, err
	}
	if f.Fee, err = parseDecimal("fee", msg.Fee); err != nil {
		return f, err
	}
	return f, nil
}
