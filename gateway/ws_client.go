package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"order-tracker-go/infrastructure/monitor"
)

// StreamConfig WebSocket 流配置。
type StreamConfig struct {
	Endpoint     string        // wss://... 私有回报流地址
	MaxRetries   int           // 连续重连失败上限
	RetryBackoff time.Duration // 基础退避间隔（线性递增）
	ReadTimeout  time.Duration // 读超时（由心跳续期）
	BufferSize   int           // 读循环与处理循环之间的有界通道容量
}

// DefaultStreamConfig 返回默认配置。
func DefaultStreamConfig(endpoint string) StreamConfig {
	return StreamConfig{
		Endpoint:     endpoint,
		MaxRetries:   5,
		RetryBackoff: 3 * time.Second,
		ReadTimeout:  30 * time.Second,
		BufferSize:   1024,
	}
}

// StreamClient 管理到交易所回报流的长连接，含自动重连与重连后全量同步。
// 读循环只负责收包并写入有界通道；通道写满时读循环阻塞，
// 由 TCP 背压限制上游，避免内存无界增长。
type StreamClient struct {
	cfg     StreamConfig
	adapter *SyncAdapter
	log     *zap.Logger
	mon     *monitor.Monitor

	dialer       *websocket.Dialer
	conn         *websocket.Conn
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	msgCh        chan []byte
	doneCh       chan struct{}
	onConnected  func()
	onFatalError func(error)
	eventSink    func(string, map[string]interface{})
}

// NewStreamClient 创建流客户端。
func NewStreamClient(cfg StreamConfig, adapter *SyncAdapter, log *zap.Logger, mon *monitor.Monitor) *StreamClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		cfg:     cfg,
		adapter: adapter,
		log:     log,
		mon:     mon,
		dialer:  websocket.DefaultDialer,
		msgCh:   make(chan []byte, cfg.BufferSize),
		doneCh:  make(chan struct{}),
	}
}

// SetConnectedHandler 设置连接建立回调。
func (c *StreamClient) SetConnectedHandler(fn func()) {
	c.onConnected = fn
}

// SetFatalErrorHandler 设置致命错误回调（用于通知主程序触发优雅退出）。
func (c *StreamClient) SetFatalErrorHandler(fn func(error)) {
	c.onFatalError = fn
}

// SetEventSink 设置事件回调（例如记录连接状态）。
func (c *StreamClient) SetEventSink(fn func(string, map[string]interface{})) {
	c.eventSink = fn
}

// Start 启动连接与处理循环（后台 goroutine）。
func (c *StreamClient) Start() error {
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("stream endpoint required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel

	go c.runProcessor()
	go c.runWS()
	return nil
}

// Stop 停止连接。
func (c *StreamClient) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	<-c.doneCh
}

// runProcessor 消费有界通道，驱动适配器。
func (c *StreamClient) runProcessor() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.msgCh:
			if err := c.adapter.HandleMessage(msg); err != nil {
				c.log.Warn("message not processed", zap.Error(err))
			}
		}
	}
}

// runWS 维持连接，自动重连。
func (c *StreamClient) runWS() {
	retries := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.cfg.Endpoint, nil)
		if err != nil {
			if retries >= c.cfg.MaxRetries {
				fatalErr := fmt.Errorf("websocket reconnection failed after %d retries: %w", c.cfg.MaxRetries, err)
				c.log.Error("stream connection abandoned", zap.Error(fatalErr))
				if c.onFatalError != nil {
					c.onFatalError(fatalErr)
				}
				return
			}
			retries++
			backoff := time.Duration(retries) * c.cfg.RetryBackoff
			c.log.Warn("ws dial failed",
				zap.Int("attempt", retries),
				zap.Int("max", c.cfg.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			time.Sleep(backoff)
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.mon.SetWSConnected(true)
		c.log.Info("stream connected", zap.String("endpoint", c.cfg.Endpoint))
		if c.eventSink != nil {
			c.eventSink("ws_connected", map[string]interface{}{"endpoint": c.cfg.Endpoint})
		}

		// 关键：重连后先全量同步，修复断连期间丢失的回报
		if err := c.adapter.OnConnect(c.ctx); err != nil {
			c.log.Warn("post-connect resync failed", zap.Error(err))
		}
		if c.onConnected != nil {
			c.onConnected()
		}
		retries = 0

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.mon.SetWSConnected(false)
		c.log.Warn("stream disconnected, reconnecting")
		if c.eventSink != nil {
			c.eventSink("ws_disconnected", map[string]interface{}{})
		}
		time.Sleep(c.cfg.RetryBackoff)
	}
}

// readLoop 读取消息并写入有界通道。
func (c *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("ws read error", zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		select {
		case c.msgCh <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}
