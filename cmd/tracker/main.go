package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-tracker-go/analytics"
	"order-tracker-go/config"
	"order-tracker-go/gateway"
	"order-tracker-go/infrastructure/alert"
	"order-tracker-go/infrastructure/logger"
	"order-tracker-go/infrastructure/monitor"
	"order-tracker-go/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件")
	restRate := flag.Float64("restRate", 5, "REST 限流：每秒令牌数")
	restBurst := flag.Int("restBurst", 10, "REST 限流：最大突发令牌数")
	hotReload := flag.Bool("hotReload", true, "启用配置热更新")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	appLog, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Outputs:    cfg.Logging.Outputs,
		OutputFile: cfg.Logging.OutputFile,
		ErrorFile:  cfg.Logging.ErrorFile,
		Format:     cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLog.Close()

	mon := monitor.New(monitor.DefaultConfig())
	addr := cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if cfg.Metrics.Enabled && addr != "" {
		mon.StartMetricsServer(addr)
		appLog.Info("metrics server started", zap.String("addr", addr))
	}

	alerts := buildAlertManager(cfg.Alerting)

	restClient := &gateway.VenueRESTClient{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     cfg.Venue.APIKey,
		Secret:     cfg.Venue.APISecret,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		Limiter:    gateway.NewTokenBucketLimiter(*restRate, *restBurst),
	}

	mgr := order.NewManager(restClient, appLog.Logger, mon)
	mgr.SetConstraints(buildConstraints(cfg.Pairs))

	engine := analytics.NewEngine(analyticsConfig(cfg.Analytics), appLog.Logger, mon)
	engine.AddEventHandler("fill", func(ev *analytics.FillEvent) {
		appLog.LogFill("stream_fill", ev.Fill.TradeID, map[string]interface{}{
			"order_id": ev.Fill.OrderID,
			"pair":     ev.Fill.Pair,
			"side":     string(ev.Fill.Side),
			"volume":   ev.Fill.Volume.String(),
			"price":    ev.Fill.Price.String(),
		})
	})
	wireAlerts(engine, alerts, cfg.Alerting, appLog)

	adapter := gateway.NewSyncAdapter(mgr, restClient, gateway.SyncAdapterConfig{
		DedupCapacity: cfg.Sync.DedupCapacity,
	}, appLog.Logger, mon)
	adapter.SetFillSink(engine)

	streamCfg := gateway.DefaultStreamConfig(cfg.Venue.WSEndpoint)
	if cfg.Stream.MaxRetries > 0 {
		streamCfg.MaxRetries = cfg.Stream.MaxRetries
	}
	if cfg.Stream.RetryBackoffMs > 0 {
		streamCfg.RetryBackoff = time.Duration(cfg.Stream.RetryBackoffMs) * time.Millisecond
	}
	if cfg.Stream.ReadTimeoutSec > 0 {
		streamCfg.ReadTimeout = time.Duration(cfg.Stream.ReadTimeoutSec) * time.Second
	}
	if cfg.Stream.BufferSize > 0 {
		streamCfg.BufferSize = cfg.Stream.BufferSize
	}

	stream := gateway.NewStreamClient(streamCfg, adapter, appLog.Logger, mon)
	stream.SetFatalErrorHandler(func(err error) {
		appLog.Error("stream unrecoverable", zap.Error(err))
		_ = alerts.SendCritical("websocket stream unrecoverable", map[string]interface{}{
			"error": err.Error(),
		})
	})
	stream.SetEventSink(func(event string, fields map[string]interface{}) {
		appLog.LogSync(event, fields)
	})
	if err := stream.Start(); err != nil {
		appLog.Fatal("启动回报流失败", zap.Error(err))
	}

	reconciler := order.NewReconciler(adapter, mgr, order.ReconcilerConfig{
		Interval: cfg.Sync.ReconcileInterval(),
	}, appLog.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reconciler.Start(ctx); err != nil {
		appLog.Fatal("启动对账器失败", zap.Error(err))
	}

	var reloader *config.HotReloader
	if *hotReload {
		reloader, err = config.NewHotReloader(*cfgPath, config.DefaultHotReloadConfig())
		if err != nil {
			appLog.Warn("热更新初始化失败", zap.Error(err))
		} else {
			reloader.OnUpdate(func(next config.AppConfig) {
				engine.ApplyConfig(analyticsConfig(next.Analytics))
				mgr.SetConstraints(buildConstraints(next.Pairs))
				appLog.Info("config hot reloaded")
			})
			reloader.OnError(func(err error) {
				appLog.Warn("config reload rejected", zap.Error(err))
			})
			if err := reloader.Start(ctx); err != nil {
				appLog.Warn("热更新启动失败", zap.Error(err))
			}
		}
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.Debug("sd_notify skipped", zap.Error(err))
	}
	appLog.Info("order tracker started",
		zap.String("env", cfg.Env),
		zap.String("venue", cfg.Venue.BaseURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	appLog.Info("shutting down")

	cancel()
	if reloader != nil {
		_ = reloader.Stop()
	}
	_ = reconciler.Stop()
	stream.Stop()

	for _, o := range mgr.GetActiveOrders() {
		s := o.GetExecutionSummary()
		appLog.LogOrder("active_at_shutdown", s.ID, map[string]interface{}{
			"state":           string(s.State),
			"pair":            s.Pair,
			"volume_executed": s.VolumeExecuted.String(),
		})
	}

	stats := mgr.GetStatistics()
	appLog.Info("final statistics",
		zap.Int64("orders_created", stats.OrdersCreated),
		zap.Int64("fills_applied", stats.FillsApplied),
		zap.Int64("snapshots_applied", stats.SnapshotsApplied),
	)
}

// buildConstraints 把配置中的字符串精度转换为 decimal 约束。
func buildConstraints(pairs map[string]config.PairConfig) map[string]order.PairConstraints {
	out := make(map[string]order.PairConstraints, len(pairs))
	for pair, pc := range pairs {
		out[strings.ToUpper(pair)] = order.PairConstraints{
			TickSize:    mustDecimal(pc.TickSize),
			StepSize:    mustDecimal(pc.StepSize),
			MinVolume:   mustDecimal(pc.MinVolume),
			MaxVolume:   mustDecimal(pc.MaxVolume),
			MinNotional: mustDecimal(pc.MinNotional),
		}
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal in config: %q", s)
	}
	return d
}

// analyticsConfig 把 YAML 配置映射为引擎配置，零值回落到默认。
func analyticsConfig(a config.AnalyticsConfig) analytics.Config {
	cfg := analytics.DefaultConfig()
	if a.MaxEvents > 0 {
		cfg.MaxEvents = a.MaxEvents
	}
	if a.PatternDetectionThreshold > 0 {
		cfg.PatternDetectionThreshold = a.PatternDetectionThreshold
	}
	if a.CorrelationThreshold > 0 {
		cfg.CorrelationThreshold = a.CorrelationThreshold
	}
	if a.TimeToleranceMs > 0 {
		cfg.TimeTolerance = time.Duration(a.TimeToleranceMs) * time.Millisecond
	}
	if a.PriceTolerance > 0 {
		cfg.PriceTolerance = a.PriceTolerance
	}
	if a.VolumeTolerance > 0 {
		cfg.VolumeTolerance = a.VolumeTolerance
	}
	if a.AccumulationMinFills > 0 {
		cfg.AccumulationMinFills = a.AccumulationMinFills
	}
	if a.AccumulationWindowSec > 0 {
		cfg.AccumulationWindow = time.Duration(a.AccumulationWindowSec) * time.Second
	}
	if a.MomentumWindowSec > 0 {
		cfg.MomentumWindow = time.Duration(a.MomentumWindowSec) * time.Second
	}
	if a.MomentumMinRate > 0 {
		cfg.MomentumMinRate = a.MomentumMinRate
	}
	if a.IcebergMinFills > 0 {
		cfg.IcebergMinFills = a.IcebergMinFills
	}
	if a.IcebergPriceEpsilon > 0 {
		cfg.IcebergPriceEpsilon = a.IcebergPriceEpsilon
	}
	return cfg
}

func buildAlertManager(cfg config.AlertingConfig) *alert.Manager {
	throttle := 1 * time.Minute
	if cfg.ThrottleSec > 0 {
		throttle = time.Duration(cfg.ThrottleSec) * time.Second
	}
	channels := []alert.Channel{alert.NewLogChannel("log", os.Stdout)}
	if cfg.Enabled && cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", cfg.WebhookURL))
	}
	return alert.NewManager(channels, throttle)
}

// wireAlerts 把检测到的模式写入结构化日志，高置信度的再桥接到告警通道。
func wireAlerts(engine *analytics.Engine, alerts *alert.Manager, cfg config.AlertingConfig, appLog *logger.Logger) {
	floor := cfg.PatternConfidence
	if floor <= 0 {
		floor = 0.8
	}
	patternHandler := func(p analytics.TradingPattern) {
		appLog.LogPattern(string(p.Type), p.Confidence, map[string]interface{}{
			"pattern_id": p.PatternID,
			"pair":       p.Pair,
			"fill_count": p.FillCount,
		})
		if p.Confidence < floor {
			return
		}
		_ = alerts.SendWarning("trading pattern detected", map[string]interface{}{
			"pattern_id": p.PatternID,
			"type":       string(p.Type),
			"pair":       p.Pair,
			"confidence": p.Confidence,
			"fill_count": p.FillCount,
			"volume":     p.TotalVolume.String(),
		})
	}
	engine.AddPatternHandler(analytics.PatternAccumulation, patternHandler)
	engine.AddPatternHandler(analytics.PatternMomentumBurst, patternHandler)
	engine.AddPatternHandler(analytics.PatternIceberg, patternHandler)

	engine.AddCorrelationHandler(func(c analytics.EventCorrelation) {
		if c.Type != analytics.CorrelationComposite {
			return
		}
		_ = alerts.SendInfo("correlated fills across orders", map[string]interface{}{
			"correlation_id": c.CorrelationID,
			"trade_ids":      c.TradeIDs,
			"score":          c.Score,
		})
	})
}
