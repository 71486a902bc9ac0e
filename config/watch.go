package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// HotReloader 配置热更新器。监听配置文件写入，
// 重新加载并验证通过后才通知订阅方；验证失败保留旧配置。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	lastReload time.Time
	mu         sync.RWMutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	onUpdate   func(AppConfig)
	onError    func(error)
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// OnUpdate 注册配置更新回调；仅在新配置验证通过后调用。
func (h *HotReloader) OnUpdate(fn func(AppConfig)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUpdate = fn
}

// OnError 注册加载/验证失败回调。
func (h *HotReloader) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	if err := h.watcher.Add(h.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	if !h.config.Enabled {
		if h.watcher != nil {
			return h.watcher.Close()
		}
		return nil
	}

	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}

	// 等待 goroutine 结束（带超时，watch 可能从未启动）
	select {
	case <-h.doneChan:
	case <-time.After(1 * time.Second):
	}

	if h.watcher != nil {
		return h.watcher.Close()
	}

	return nil
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// 只处理写入和创建事件
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.notifyError(fmt.Errorf("watcher error: %w", err))
		}
	}
}

// handleConfigChange 处理配置变化：冷却、重载、验证、通知。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	if time.Since(h.lastReload) < h.config.CooldownTime {
		h.mu.Unlock()
		return
	}
	h.lastReload = time.Now()
	onUpdate := h.onUpdate
	h.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(h.configPath)
	if err != nil {
		h.notifyError(fmt.Errorf("reload rejected: %w", err))
		return
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}
}

func (h *HotReloader) notifyError(err error) {
	h.mu.RLock()
	onError := h.onError
	h.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}
